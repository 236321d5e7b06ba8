package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"futurescore/internal/core"
	"futurescore/internal/ensemble"
	"futurescore/internal/events"
	"futurescore/internal/gates"
	"futurescore/internal/metrics"
	"futurescore/pkg/db"
)

type createCredentialRequest struct {
	Kind   string `json:"kind"`
	Label  string `json:"label"`
	Secret string `json:"secret"`
}

// createProviderCredential encrypts an operator-supplied API key at rest
// (§4.W) and stores it so resolveFeedVendorAPIKey / the ensemble pool can
// pick it up without the secret ever living in a plaintext env var.
func (s *Server) createProviderCredential(c *gin.Context) {
	if s.Keys == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "key manager not configured"})
		return
	}
	var req createCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Kind != "DATA_VENDOR" && req.Kind != "VOTE_PROVIDER" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be DATA_VENDOR or VOTE_PROVIDER"})
		return
	}
	encrypted, err := s.Keys.Encrypt(req.Secret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cred := db.ProviderCredential{
		ID:              uuid.NewString(),
		Kind:            req.Kind,
		Label:           req.Label,
		EncryptedSecret: encrypted,
	}
	if err := s.Store.CreateProviderCredential(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": cred.ID, "kind": cred.Kind, "label": cred.Label})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getQueueStats(c *gin.Context) {
	rows, err := s.Store.DB.QueryContext(c.Request.Context(), `SELECT status, COUNT(*) FROM bot_jobs GROUP BY status`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue stats query failed"})
		return
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			continue
		}
		counts[status] = n
	}
	c.JSON(http.StatusOK, counts)
}

// watchedBusEvents mirrors the alert topics internal/monitor subscribes to,
// so an operator polling /bus/stats sees drop counts for the same events
// that drive alerting.
var watchedBusEvents = []events.Event{
	events.EventDataFrozen,
	events.EventAccountBlown,
	events.EventKillSwitchEngaged,
	events.EventJobTimeout,
	events.EventOrderBlocked,
	events.EventGraduationResult,
}

func (s *Server) getBusStats(c *gin.Context) {
	if s.Bus == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	dropped := make(map[string]int64, len(watchedBusEvents))
	for _, e := range watchedBusEvents {
		dropped[string(e)] = s.Bus.DroppedCount(e)
	}
	resp := gin.H{"activeTopics": s.Bus.Topics(), "dropped": dropped}
	if s.Store != nil {
		resp["dbPool"] = s.Store.PoolStats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) startBot(c *gin.Context) {
	botID := c.Param("id")
	if s.Runners == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runner service not configured"})
		return
	}
	if err := s.Runners.StartBot(c.Request.Context(), botID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"botId": botID, "status": "started"})
}

type stopBotRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) stopBot(c *gin.Context) {
	botID := c.Param("id")
	if s.Runners == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runner service not configured"})
		return
	}
	var req stopBotRequest
	_ = c.ShouldBindJSON(&req)
	reason := core.ReasonNone
	if req.Reason != "" {
		reason = core.Reason(req.Reason)
	}
	if err := s.Runners.StopBot(c.Request.Context(), botID, reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"botId": botID, "status": "stopped"})
}

func (s *Server) killSwitch(c *gin.Context) {
	if s.Runners == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runner service not configured"})
		return
	}
	if err := s.Runners.KillSwitch(c.Request.Context(), uuid.NewString); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "kill_switch_engaged"})
}

func (s *Server) refreshCache(c *gin.Context) {
	symbol := c.Param("symbol")
	if s.Cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "warm cache not configured"})
		return
	}
	if err := s.Cache.Refresh(c.Request.Context(), symbol, 5); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "status": "refreshed"})
}

// graduationCheck evaluates a bot's current stage against the gate
// thresholds for promotion (§4.M), sourcing every MetricsInput field from
// the paper-trade ledger, the freshness audit trail, and the bot's current
// generation row rather than leaving the operator-only signals at their Go
// zero value.
func (s *Server) graduationCheck(c *gin.Context) {
	ctx := c.Request.Context()
	botID := c.Param("id")

	bot, err := s.Store.GetBot(ctx, botID)
	if err != nil || bot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return
	}
	attempt, err := s.Store.GetActiveAttempt(ctx, bot.AccountID)
	if err != nil || attempt == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no active account attempt"})
		return
	}

	closed, err := s.Store.ListClosedTradesForMetrics(ctx, botID, attempt.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	open, err := s.Store.GetOpenTradesForBot(ctx, botID, attempt.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snap := metrics.FromTrades(closed, len(open), metrics.DefaultNotional)

	fresh, nonFresh, err := s.Store.FreshnessAuditSummary(ctx, botID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	dataProof := fresh > 0 && nonFresh == 0

	var generation *db.BotGeneration
	if bot.CurrentGenerationID != "" {
		generation, err = s.Store.GetBotGeneration(ctx, bot.CurrentGenerationID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if generation != nil {
		walkForwardOK, overfitRatio := metrics.WalkForward(closed, metrics.DefaultNotional)
		if err := s.Store.SetGenerationWalkForward(ctx, generation.ID, walkForwardOK, overfitRatio); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		generation.WalkForwardOK = walkForwardOK
		generation.OverfitRatio = overfitRatio
	} else {
		generation = &db.BotGeneration{}
	}

	result := gates.Evaluate(gates.MetricsInput{
		Stage:             core.BotStage(bot.Stage),
		Trades:            snap.ClosedTrades,
		WinRatePct:        snap.WinRatePct,
		MaxDrawdownPct:    snap.MaxDrawdownPct,
		ProfitFactor:      snap.ProfitFactor,
		ExpectancyUSD:     snap.ExpectancyUSD,
		Sharpe:            snap.Sharpe,
		HasLosers:         snap.HasLosers,
		DataProof:         dataProof,
		Profitable:        snap.Profitable,
		Days:              int(time.Since(attempt.CreatedAt).Hours() / 24),
		WalkForwardOK:     generation.WalkForwardOK,
		OverfitRatio:      generation.OverfitRatio,
		StressTestPassed:  generation.StressTestPassed,
		HumanApproved:     generation.HumanApproved,
	})
	c.JSON(http.StatusOK, result)
}

type generationVerdictRequest struct {
	Passed bool `json:"passed"`
}

// setStressTestPassed records an operator's stress-test verdict against a
// bot's current generation, the CANARY-stage gate input §4.M has no
// ledger-derivable source for.
func (s *Server) setStressTestPassed(c *gin.Context) {
	botID := c.Param("id")
	ctx := c.Request.Context()

	bot, err := s.Store.GetBot(ctx, botID)
	if err != nil || bot == nil || bot.CurrentGenerationID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot or current generation not found"})
		return
	}
	var req generationVerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.Store.SetGenerationStressTestPassed(ctx, bot.CurrentGenerationID, req.Passed); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"botId": botID, "stressTestPassed": req.Passed})
}

// setHumanApproved records an operator's sign-off against a bot's current
// generation, the other CANARY-stage gate input with no ledger-derivable
// source.
func (s *Server) setHumanApproved(c *gin.Context) {
	botID := c.Param("id")
	ctx := c.Request.Context()

	bot, err := s.Store.GetBot(ctx, botID)
	if err != nil || bot == nil || bot.CurrentGenerationID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot or current generation not found"})
		return
	}
	var req generationVerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.Store.SetGenerationHumanApproved(ctx, bot.CurrentGenerationID, req.Passed); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"botId": botID, "humanApproved": req.Passed})
}

type voteRequest struct {
	Symbol   string            `json:"symbol"`
	Category ensemble.Category `json:"category"`
	Payload  string            `json:"payload"`
}

func (s *Server) fetchVote(c *gin.Context) {
	if s.Vote == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ensemble pool not configured"})
		return
	}
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result := s.Vote.Vote(c.Request.Context(), req.Symbol, req.Category, req.Payload)
	c.JSON(http.StatusOK, result)
}
