// Package recovery implements Blown-Account Recovery (SPEC_FULL.md §4.N):
// detecting a depleted account attempt, deciding whether attached bots get
// re-queued for improvement or demoted, and resetting the account for a
// fresh attempt. Grounded on the teacher's internal/balance/manager.go
// blown-account detection and internal/balance/multi_user.go per-account
// bot fan-out.
package recovery

import (
	"context"
	"fmt"
	"log"

	"futurescore/internal/clock"
	"futurescore/internal/core"
	"futurescore/internal/events"
	"futurescore/internal/jobqueue"
	"futurescore/pkg/db"
)

// consecutiveBlownDemoteThreshold is the consecutive-blown count at which
// attached bots are demoted to TRIALS instead of re-queued (§4.N).
const consecutiveBlownDemoteThreshold = 3

const improvingJobType = "IMPROVING"

// Store is the persistence contract the recovery service depends on.
type Store interface {
	GetActiveAttempt(ctx context.Context, accountID string) (*db.AccountAttempt, error)
	MarkAttemptBlown(ctx context.Context, accountID, attemptID, reason string, endingBalance float64) (int, error)
	StartNewAttempt(ctx context.Context, accountID, newAttemptID string, startingBalance float64) error
	ListBotsByAccount(ctx context.Context, accountID string) ([]db.Bot, error)
	GetBotInstanceByBotID(ctx context.Context, botID string) (*db.BotInstance, error)
	UpdateBotStage(ctx context.Context, id, stage, reason string) error
	SetBotInstanceRecoveryFlags(ctx context.Context, id string, awaitingRecovery, readyForRestart bool) error
	InsertIntegrationEvent(ctx context.Context, e db.IntegrationEvent) error
}

// IDFunc mints a new unique id; injected so callers control id generation
// (typically google/uuid in production, a counter in tests).
type IDFunc func() string

// Service runs the blown-account predicate and the demote-vs-requeue
// decision over an account's attached bots.
type Service struct {
	store Store
	jobs  *jobqueue.Queue
	bus   *events.Bus
	clk   clock.Clock
	newID IDFunc
}

// New builds a blown-account recovery Service. bus may be nil if runner-stop
// notification is wired some other way; jobs may be nil if IMPROVING
// requeue is handled by a caller instead.
func New(store Store, jobs *jobqueue.Queue, bus *events.Bus, clk clock.Clock, newID IDFunc) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{store: store, jobs: jobs, bus: bus, clk: clk, newID: newID}
}

// CheckBalance evaluates the blown predicate for accountID's active attempt.
// computedBalance is initialBalance + Σ(closed trade pnl) for the active
// attempt, computed by the caller (Paper Runner, after closing a position
// or on a periodic reconciliation tick). A no-op when computedBalance > 0.
func (s *Service) CheckBalance(ctx context.Context, accountID string, computedBalance float64) error {
	if computedBalance > 0 {
		return nil
	}

	attempt, err := s.store.GetActiveAttempt(ctx, accountID)
	if err != nil {
		return fmt.Errorf("recovery: load active attempt for %s: %w", accountID, err)
	}
	if attempt == nil {
		return nil // already resolved by a concurrent check
	}

	consecutive, err := s.store.MarkAttemptBlown(ctx, accountID, attempt.ID, "BALANCE_DEPLETED", computedBalance)
	if err != nil {
		return fmt.Errorf("recovery: mark attempt %s blown: %w", attempt.ID, err)
	}
	log.Printf("recovery: account %s attempt %s BLOWN (balance %.2f, consecutive %d)", accountID, attempt.ID, computedBalance, consecutive)

	if err := s.audit(ctx, "", fmt.Sprintf(
		`{"accountId":%q,"attemptId":%q,"consecutiveBlownCount":%d,"endingBalance":%.2f}`,
		accountID, attempt.ID, consecutive, computedBalance), "account_blown"); err != nil {
		return err
	}

	// Runner-stop is a side effect of a different subsystem (Paper Runner);
	// deferring it to an event keeps Recovery -> Runner -> Job Queue from
	// becoming a direct import cycle (§9 cyclic-coupling break).
	if s.bus != nil {
		s.bus.Publish(events.EventAccountBlown, events.AccountBlownPayload{AccountID: accountID, Consecutive: consecutive})
	}

	return s.decideAttachedBots(ctx, accountID, consecutive)
}

func (s *Service) decideAttachedBots(ctx context.Context, accountID string, consecutive int) error {
	bots, err := s.store.ListBotsByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("recovery: list bots for account %s: %w", accountID, err)
	}

	demote := consecutive >= consecutiveBlownDemoteThreshold
	for _, b := range bots {
		if demote {
			if err := s.store.UpdateBotStage(ctx, b.ID, string(core.StageTrials), string(core.ReasonBlownAccountDemotion)); err != nil {
				return fmt.Errorf("recovery: demote bot %s: %w", b.ID, err)
			}
			if err := s.markAwaitingRecovery(ctx, b.ID); err != nil {
				return err
			}
			log.Printf("recovery: bot %s demoted to TRIALS (%s)", b.ID, core.ReasonBlownAccountDemotion)
			continue
		}

		if s.jobs == nil {
			continue
		}
		queued, err := s.jobs.Enqueue(ctx, db.BotJob{ID: s.newID(), BotID: b.ID, JobType: improvingJobType})
		if err != nil {
			return fmt.Errorf("recovery: enqueue IMPROVING job for bot %s: %w", b.ID, err)
		}
		if err := s.markAwaitingRecovery(ctx, b.ID); err != nil {
			return err
		}
		if queued {
			log.Printf("recovery: bot %s queued for IMPROVING (consecutive blown %d)", b.ID, consecutive)
		}
	}
	return nil
}

func (s *Service) markAwaitingRecovery(ctx context.Context, botID string) error {
	inst, err := s.store.GetBotInstanceByBotID(ctx, botID)
	if err != nil {
		return fmt.Errorf("recovery: load instance for bot %s: %w", botID, err)
	}
	if inst == nil {
		return nil
	}
	if err := s.store.SetBotInstanceRecoveryFlags(ctx, inst.ID, true, false); err != nil {
		return fmt.Errorf("recovery: mark instance %s awaiting recovery: %w", inst.ID, err)
	}
	return nil
}

// ResetForNewAttempt implements the reset-for-new-attempt flow (§4.N): opens
// a fresh ACTIVE attempt at startingBalance and clears every attached bot
// instance's recovery flags so its runner can restart.
func (s *Service) ResetForNewAttempt(ctx context.Context, accountID string, startingBalance float64) error {
	if err := s.store.StartNewAttempt(ctx, accountID, s.newID(), startingBalance); err != nil {
		return fmt.Errorf("recovery: start new attempt for account %s: %w", accountID, err)
	}

	bots, err := s.store.ListBotsByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("recovery: list bots for account %s: %w", accountID, err)
	}
	for _, b := range bots {
		inst, err := s.store.GetBotInstanceByBotID(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("recovery: load instance for bot %s: %w", b.ID, err)
		}
		if inst == nil {
			continue
		}
		if err := s.store.SetBotInstanceRecoveryFlags(ctx, inst.ID, false, true); err != nil {
			return fmt.Errorf("recovery: clear recovery flags for instance %s: %w", inst.ID, err)
		}
	}

	return s.audit(ctx, "", fmt.Sprintf(`{"accountId":%q,"startingBalance":%.2f}`, accountID, startingBalance), "account_reset")
}

func (s *Service) audit(ctx context.Context, botID, payload, kind string) error {
	if err := s.store.InsertIntegrationEvent(ctx, db.IntegrationEvent{
		ID: s.newID(), Ts: s.clk.Now(), Kind: kind, BotID: botID, Payload: payload,
	}); err != nil {
		return fmt.Errorf("recovery: audit %s: %w", kind, err)
	}
	return nil
}
