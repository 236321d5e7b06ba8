package runner

import (
	"context"
	"testing"

	"futurescore/pkg/db"
)

func TestKillSwitchStopsInMemoryRunnersAndSweepsOrphans(t *testing.T) {
	store := newFakeStore()
	store.instances["bot-1"] = &db.BotInstance{ID: "inst-1", BotID: "bot-1", State: "IN_TRADE"}
	store.instances["bot-2"] = &db.BotInstance{ID: "inst-2", BotID: "bot-2", State: "SCANNING"}

	svc := NewService(Deps{Store: store})
	svc.mu.Lock()
	svc.runners["bot-1"] = &Runner{store: store, botID: "bot-1", instance: *store.instances["bot-1"]}
	svc.mu.Unlock()

	if err := svc.KillSwitch(context.Background(), idSeq()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(svc.RunningBotIDs()) != 0 {
		t.Fatalf("expected no runners tracked after kill switch, got %v", svc.RunningBotIDs())
	}
	if store.instances["bot-1"].State != "STOPPED" {
		t.Fatalf("expected bot-1 instance stopped, got %s", store.instances["bot-1"].State)
	}
	if store.instances["bot-2"].State != "STOPPED" {
		t.Fatalf("expected orphaned bot-2 instance swept to stopped, got %s", store.instances["bot-2"].State)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected exactly one kill-switch audit event, got %d", len(store.events))
	}
}

func TestStopBotNoopWhenNotRunning(t *testing.T) {
	store := newFakeStore()
	svc := NewService(Deps{Store: store})
	if err := svc.StopBot(context.Background(), "ghost", "SESSION_CLOSED"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
