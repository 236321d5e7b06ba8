package runner

import (
	"context"
	"time"

	"futurescore/pkg/db"
)

// fakeStore backs both runner.Store and recovery.Store in tests; it keeps
// enough in-memory state to exercise open/close/duplicate-guard/blown-account
// flows without a database.
type fakeStore struct {
	bots          map[string]*db.Bot
	instances     map[string]*db.BotInstance
	accounts      map[string]*db.Account
	attempts      map[string]*db.AccountAttempt
	openTrades    map[string][]db.PaperTrade // keyed by botID
	closedTrades  map[string][]db.PaperTrade // keyed by botID
	events        []db.IntegrationEvent
	stages        map[string]string
	closeCalls    []string
	blownAccounts []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bots:         map[string]*db.Bot{},
		instances:    map[string]*db.BotInstance{},
		accounts:     map[string]*db.Account{},
		attempts:     map[string]*db.AccountAttempt{},
		openTrades:   map[string][]db.PaperTrade{},
		closedTrades: map[string][]db.PaperTrade{},
		stages:       map[string]string{},
	}
}

func (s *fakeStore) GetBot(ctx context.Context, id string) (*db.Bot, error) { return s.bots[id], nil }

func (s *fakeStore) GetBotInstanceByBotID(ctx context.Context, botID string) (*db.BotInstance, error) {
	return s.instances[botID], nil
}

func (s *fakeStore) CreateBotInstance(ctx context.Context, bi db.BotInstance) error {
	cp := bi
	s.instances[bi.BotID] = &cp
	return nil
}

func (s *fakeStore) UpdateBotInstanceState(ctx context.Context, id, state, activityState, sessionState string) error {
	for _, inst := range s.instances {
		if inst.ID == id {
			inst.State, inst.ActivityState, inst.SessionState = state, activityState, sessionState
		}
	}
	return nil
}

func (s *fakeStore) TouchBotInstanceHeartbeat(ctx context.Context, id string) error { return nil }

func (s *fakeStore) ListRunningBotInstances(ctx context.Context) ([]db.BotInstance, error) {
	var out []db.BotInstance
	for _, inst := range s.instances {
		if inst.State != "STOPPED" {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (s *fakeStore) GetAccount(ctx context.Context, id string) (*db.Account, error) {
	return s.accounts[id], nil
}

func (s *fakeStore) GetActiveAttempt(ctx context.Context, accountID string) (*db.AccountAttempt, error) {
	return s.attempts[accountID], nil
}

func (s *fakeStore) GetOpenTradesForBot(ctx context.Context, botID, accountAttemptID string) ([]db.PaperTrade, error) {
	return s.openTrades[botID], nil
}

func (s *fakeStore) OpenPaperTrade(ctx context.Context, t db.PaperTrade) error {
	t.Status = "OPEN"
	s.openTrades[t.BotID] = append([]db.PaperTrade{t}, s.openTrades[t.BotID]...)
	return nil
}

func (s *fakeStore) ClosePaperTrade(ctx context.Context, id string, exitPrice float64, exitTs time.Time, reasonCode string, pnl, fees, slippage float64) error {
	s.closeCalls = append(s.closeCalls, id)
	for botID, trades := range s.openTrades {
		kept := trades[:0]
		for _, tr := range trades {
			if tr.ID == id {
				tr.Status = "CLOSED"
				tr.ExitPrice = &exitPrice
				tr.ExitTs = &exitTs
				tr.ExitReasonCode = reasonCode
				pnlCopy := pnl
				tr.PnL = &pnlCopy
				tr.Fees = fees
				tr.Slippage = slippage
				s.closedTrades[botID] = append(s.closedTrades[botID], tr)
				continue
			}
			kept = append(kept, tr)
		}
		s.openTrades[botID] = kept
	}
	return nil
}

func (s *fakeStore) FindDuplicateOpenTrade(ctx context.Context, symbol string, entryTs time.Time, entryPrice float64, side, excludeBotID string) (*db.PaperTrade, error) {
	for botID, trades := range s.openTrades {
		if botID == excludeBotID {
			continue
		}
		for _, tr := range trades {
			if tr.Symbol == symbol && tr.Side == side {
				cp := tr
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (s *fakeStore) ListClosedTradesForMetrics(ctx context.Context, botID, accountAttemptID string) ([]db.PaperTrade, error) {
	return s.closedTrades[botID], nil
}

func (s *fakeStore) SumRealizedPnLForAttempt(ctx context.Context, accountAttemptID string) (float64, error) {
	var sum float64
	for _, trades := range s.closedTrades {
		for _, tr := range trades {
			if tr.AccountAttemptID == accountAttemptID && tr.PnL != nil {
				sum += *tr.PnL
			}
		}
	}
	return sum, nil
}

func (s *fakeStore) InsertIntegrationEvent(ctx context.Context, e db.IntegrationEvent) error {
	s.events = append(s.events, e)
	return nil
}

// recovery.Store methods, so fakeStore can also back a real recovery.Service.
func (s *fakeStore) MarkAttemptBlown(ctx context.Context, accountID, attemptID, reason string, endingBalance float64) (int, error) {
	s.blownAccounts = append(s.blownAccounts, accountID)
	if a, ok := s.attempts[accountID]; ok {
		a.Status = "BLOWN"
	}
	delete(s.attempts, accountID)
	return 1, nil
}

func (s *fakeStore) StartNewAttempt(ctx context.Context, accountID, newAttemptID string, startingBalance float64) error {
	s.attempts[accountID] = &db.AccountAttempt{ID: newAttemptID, AccountID: accountID, Status: "ACTIVE", StartingBalance: startingBalance}
	return nil
}

func (s *fakeStore) ListBotsByAccount(ctx context.Context, accountID string) ([]db.Bot, error) {
	var out []db.Bot
	for _, b := range s.bots {
		if b.AccountID == accountID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateBotStage(ctx context.Context, id, stage, reason string) error {
	s.stages[id] = stage
	return nil
}

func (s *fakeStore) SetBotInstanceRecoveryFlags(ctx context.Context, id string, awaitingRecovery, readyForRestart bool) error {
	for _, inst := range s.instances {
		if inst.ID == id {
			inst.AwaitingRecovery, inst.ReadyForRestart = awaitingRecovery, readyForRestart
		}
	}
	return nil
}

func idSeq() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + string(rune('a'+n))
	}
}
