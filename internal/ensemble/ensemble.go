package ensemble

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"futurescore/internal/core"
)

// Category distinguishes execution-blocking "high-stakes" vote categories
// from informational ones (§4.P).
type Category string

const (
	CategoryEntry Category = "ENTRY"
	CategoryExit  Category = "EXIT"
	CategoryOther Category = "INFO"
)

func (c Category) highStakes() bool { return c == CategoryEntry || c == CategoryExit }

const accuracyDecay = 0.95

const (
	splitMarginFraction      = 0.10 // top two weights within this fraction of the total are a split
	lowConfidenceThreshold   = 0.5
	degradedAbstainFraction  = 0.5
	supermajorityThreshold   = 0.67
	highStakesBlockThreshold = 0.6
)

// Severity classifies a conflict for the high-stakes blocking rule.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
)

// Conflict is one detected disagreement in a tally.
type Conflict struct {
	Code     core.Reason
	Severity Severity
	Detail   string
}

// Vote is one provider's answer, or its failure.
type Vote struct {
	ProviderID string
	Decision   core.VoteDecision
	Confidence float64
	Reasoning  string
	Weight     float64
	Err        error
}

func (v Vote) abstainedOrFailed() bool {
	return v.Err != nil || v.Decision == core.VoteAbstain
}

// ProviderConfig describes one gRPC vote provider.
type ProviderConfig struct {
	ID         string
	BaseWeight float64
	Timeout    time.Duration
}

// AccuracyStore persists the exponentially decayed per-provider accuracy
// multiplier; pkg/db.Database satisfies it.
type AccuracyStore interface {
	GetProviderAccuracy(ctx context.Context, providerID string) (float64, error)
	UpsertProviderAccuracy(ctx context.Context, providerID string, multiplier float64) error
}

// Result is a full tally across a provider pool.
type Result struct {
	Decision    core.VoteDecision
	Strength    float64
	Votes       []Vote
	Conflicts   []Conflict
	Blocked     bool
	BlockReason core.Reason
}

// Pool queries a set of vote providers in parallel and tallies their
// weighted decisions.
type Pool struct {
	providers []ProviderConfig
	transport map[string]*Transport
	accuracy  AccuracyStore
}

// NewPool builds a Pool from dialed transports keyed by provider id.
func NewPool(providers []ProviderConfig, transports map[string]*Transport, accuracy AccuracyStore) *Pool {
	return &Pool{providers: providers, transport: transports, accuracy: accuracy}
}

// Vote fans the question out to every configured provider with a
// per-provider timeout, tallies the weighted result, and flags conflicts.
// For ENTRY/EXIT categories, Result.Blocked is set unless agreement
// strength >= 0.6 and no HIGH-severity conflict fired (§4.P).
func (p *Pool) Vote(ctx context.Context, symbol string, category Category, payload string) Result {
	votes := p.collect(ctx, symbol, category, payload)
	return tally(votes, category)
}

func (p *Pool) collect(ctx context.Context, symbol string, category Category, payload string) []Vote {
	votes := make([]Vote, len(p.providers))
	var wg sync.WaitGroup
	for i, cfg := range p.providers {
		wg.Add(1)
		go func(i int, cfg ProviderConfig) {
			defer wg.Done()
			votes[i] = p.queryOne(ctx, cfg, symbol, category, payload)
		}(i, cfg)
	}
	wg.Wait()
	return votes
}

func (p *Pool) queryOne(ctx context.Context, cfg ProviderConfig, symbol string, category Category, payload string) Vote {
	tr, ok := p.transport[cfg.ID]
	if !ok {
		return Vote{ProviderID: cfg.ID, Decision: core.VoteAbstain, Err: fmt.Errorf("ensemble: no transport for provider %s", cfg.ID)}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	raw, confidence, reasoning, err := tr.invokeVote(ctx, timeout, symbol, string(category), payload)
	if err != nil {
		log.Printf("ensemble: provider %s vote failed: %v", cfg.ID, err)
		return Vote{ProviderID: cfg.ID, Decision: core.VoteAbstain, Err: err}
	}

	decision := parseDecision(raw)
	if decision == "" {
		// Any deviation from the expected shape downgrades to ABSTAIN (§6).
		decision = core.VoteAbstain
	}
	if confidence < 0 || confidence > 1 {
		decision = core.VoteAbstain
		confidence = 0
	}

	accuracy := 1.0
	if p.accuracy != nil {
		if a, err := p.accuracy.GetProviderAccuracy(ctx, cfg.ID); err == nil {
			accuracy = a
		}
	}
	weight := cfg.BaseWeight * accuracy * (0.3 + 0.7*confidence)

	return Vote{ProviderID: cfg.ID, Decision: decision, Confidence: confidence, Reasoning: reasoning, Weight: weight}
}

func parseDecision(raw string) core.VoteDecision {
	switch core.VoteDecision(raw) {
	case core.VoteBuy, core.VoteSell, core.VoteHold, core.VoteAbstain:
		return core.VoteDecision(raw)
	default:
		return ""
	}
}

func tally(votes []Vote, category Category) Result {
	weightByDecision := map[core.VoteDecision]float64{}
	totalWeight := 0.0
	confidenceSum := 0.0
	liveVotes := 0
	abstainedOrFailed := 0

	for _, v := range votes {
		if v.abstainedOrFailed() {
			abstainedOrFailed++
			continue
		}
		weightByDecision[v.Decision] += v.Weight
		totalWeight += v.Weight
		confidenceSum += v.Confidence
		liveVotes++
	}

	var consensus core.VoteDecision = core.VoteHold
	topWeight, secondWeight := 0.0, 0.0
	for d, w := range weightByDecision {
		if w > topWeight {
			secondWeight = topWeight
			topWeight = w
			consensus = d
		} else if w > secondWeight {
			secondWeight = w
		}
	}

	strength := 0.0
	if totalWeight > 0 {
		strength = topWeight / totalWeight
	}

	var conflicts []Conflict
	if len(votes) > 0 && float64(abstainedOrFailed) >= float64(len(votes))*degradedAbstainFraction {
		conflicts = append(conflicts, Conflict{Code: core.ReasonTimeoutDegraded, Severity: SeverityHigh, Detail: "half or more providers abstained or errored"})
	}
	if liveVotes > 0 && totalWeight > 0 && secondWeight > 0 && (topWeight-secondWeight) <= totalWeight*splitMarginFraction {
		conflicts = append(conflicts, Conflict{Code: core.ReasonSplitDecision, Severity: SeverityMedium, Detail: "top two decisions within margin"})
	}
	if liveVotes > 0 && (confidenceSum/float64(liveVotes)) < lowConfidenceThreshold {
		conflicts = append(conflicts, Conflict{Code: core.ReasonLowConfidence, Severity: SeverityMedium, Detail: "average confidence below threshold"})
	}
	if category.highStakes() && strength < supermajorityThreshold {
		conflicts = append(conflicts, Conflict{Code: core.ReasonSupermajorityFailed, Severity: SeverityHigh, Detail: "agreement strength below supermajority requirement"})
		consensus = core.VoteHold
	}

	blocked := false
	var blockReason core.Reason
	if category.highStakes() {
		hasHighSeverity := false
		for _, c := range conflicts {
			if c.Severity == SeverityHigh {
				hasHighSeverity = true
				break
			}
		}
		if strength < highStakesBlockThreshold || hasHighSeverity {
			blocked = true
			if hasHighSeverity {
				blockReason = conflicts[0].Code
			} else {
				blockReason = core.ReasonLowConfidence
			}
		}
	}

	return Result{Decision: consensus, Strength: strength, Votes: votes, Conflicts: conflicts, Blocked: blocked, BlockReason: blockReason}
}

// UpdateAccuracy applies exponential decay to a provider's accuracy
// multiplier after its vote outcome is known: correct votes pull the
// multiplier toward 1.0, incorrect ones toward 0.0, with the prior value
// retained at the decay rate (§4.P "exponential decay (0.95)").
func UpdateAccuracy(ctx context.Context, store AccuracyStore, providerID string, wasCorrect bool) error {
	prior, err := store.GetProviderAccuracy(ctx, providerID)
	if err != nil {
		return fmt.Errorf("ensemble: read accuracy for %s: %w", providerID, err)
	}
	observed := 0.0
	if wasCorrect {
		observed = 1.0
	}
	next := accuracyDecay*prior + (1-accuracyDecay)*observed
	if err := store.UpsertProviderAccuracy(ctx, providerID, next); err != nil {
		return fmt.Errorf("ensemble: write accuracy for %s: %w", providerID, err)
	}
	return nil
}
