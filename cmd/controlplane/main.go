package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"futurescore/internal/api"
	"futurescore/internal/archetype"
	"futurescore/internal/barcache"
	"futurescore/internal/clock"
	"futurescore/internal/coldstore"
	"futurescore/internal/core"
	"futurescore/internal/ensemble"
	"futurescore/internal/events"
	"futurescore/internal/feedvendor"
	"futurescore/internal/governor"
	"futurescore/internal/hydrator"
	"futurescore/internal/jobqueue"
	"futurescore/internal/monitor"
	"futurescore/internal/priceauthority"
	"futurescore/internal/recovery"
	"futurescore/internal/router"
	"futurescore/internal/runner"
	"futurescore/internal/session"
	"futurescore/internal/ticks"
	"futurescore/internal/warmcache"
	"futurescore/internal/weights"
	"futurescore/pkg/config"
	"futurescore/pkg/crypto"
	"futurescore/pkg/db"
	"futurescore/pkg/i18n"
)

// logSink is the production ticks.FlushSink: raw trade/quote persistence
// beyond gap detection and top-of-book derivation has no dedicated ledger
// table (§3 lists no raw-tick entity), so flushed batches are only logged
// at debug volume for now.
type logSink struct{}

func (logSink) FlushTrades(ctx context.Context, trades []ticks.Trade) error {
	log.Printf("ticks: flushed %d trades", len(trades))
	return nil
}

func (logSink) FlushQuotes(ctx context.Context, quotes []ticks.Quote) error {
	log.Printf("ticks: flushed %d quotes", len(quotes))
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	bus := events.NewBus()
	clk := clock.Real{}

	km, err := crypto.NewKeyManager()
	if err != nil {
		log.Printf("main: key manager unavailable, provider credentials stay on env fallback: %v", err)
		km = nil
	} else if rotated, rerr := rotateProviderCredentials(context.Background(), km, database); rerr != nil {
		log.Printf("main: provider credential rotation sweep failed: %v", rerr)
	} else if rotated > 0 {
		log.Printf("main: rotated %d provider credential(s) to key version %d", rotated, km.CurrentVersion())
	}

	// --- Cold Store / Warm Cache / Remote Hydrator / Bar Cache Facade ---
	cold := coldstore.New(database)

	vendorClient := feedvendor.NewClient(feedvendor.Config{
		BaseURL: cfg.FeedVendorBaseURL,
		APIKey:  resolveFeedVendorAPIKey(km, cfg, database),
		Timeout: cfg.FeedVendorTimeout,
	})
	hyd := hydrator.New(vendorClient, 5, 10, cfg.FeedVendorTimeout)

	warm := warmcache.New(warmcache.Options{
		MaxBarsPerSymbol: cfg.WarmCacheMaxBars(),
		EmergencyFloor:   cfg.WarmCacheEmergencyFloor,
		StaleAfter:       cfg.WarmCacheStaleAfter,
	}, cold, hyd)

	bars := barcache.New(warm, cold)

	// --- Tick Ingestor ---
	tickIngestor := ticks.New(ticks.Options{
		MetricsWindow: 5 * time.Second,
	}, logSink{})
	tickIngestor.OnGap(func(g ticks.GapRecord) {
		log.Printf("ticks: gap detected symbol=%s expected=%d received=%d size=%d", g.Symbol, g.Expected, g.Received, g.Size)
	})

	// --- Price Authority ---
	authority := priceauthority.New(priceauthority.Options{
		QuoteFreshThreshold: cfg.QuoteFreshThreshold,
		BarFreshMultiplier:  cfg.BarFreshMultiplier,
	}, tickIngestor, bars, database)

	// --- Streaming feed: mock or real vendor websocket ---
	var stream feedvendor.Stream
	if cfg.UseMockFeed {
		stream = feedvendor.NewMockStream(100, 0.25, time.Second)
	} else {
		stream = feedvendor.NewWSStream(cfg.FeedVendorBaseURL, resolveFeedVendorAPIKey(km, cfg, database))
	}

	// --- Live Data Router ---
	rtr := router.New(stream, bars, bus, clk, router.Options{
		OnTick: func(ev feedvendor.StreamEvent) {
			switch ev.Type {
			case feedvendor.EventBarTick:
				if ev.Bar != nil {
					tickIngestor.IngestTrade(context.Background(), ticks.Trade{
						Symbol: ev.Symbol, TsNs: time.UnixMilli(ev.Bar.TsEvent).UnixNano(), Price: ev.Bar.Close, Size: float64(ev.Bar.Volume),
					})
				}
			case feedvendor.EventQuoteTick:
				if ev.Quote != nil {
					tickIngestor.IngestQuote(context.Background(), ticks.Quote{
						Symbol: ev.Symbol, TsNs: ev.Quote.TsNs,
						Bid: ev.Quote.Bid, BidSize: float64(ev.Quote.BidSize), Ask: ev.Quote.Ask, AskSize: float64(ev.Quote.AskSize),
					})
				}
			}
		},
	})

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tickIngestor.Start(rootCtx)

	for _, sym := range cfg.FeedVendorPollSymbols {
		if err := rtr.Subscribe(rootCtx, sym, "1m"); err != nil {
			log.Printf("router: subscribe %s failed: %v", sym, err)
		}
	}

	// --- Session calendar ---
	cal, err := session.Load(cfg.SessionCalendarPath, cfg.SessionTimezone)
	if err != nil {
		log.Fatalf("session: load calendar: %v", err)
	}

	// --- Adaptive weights / Source Governor ---
	weightBounds := weights.Bounds{Floor: cfg.WeightFloor, Ceiling: cfg.WeightCeiling}
	weightCache := weights.NewCache(cfg.WeightRebalanceEvery, 30*24*time.Hour, weightBounds)

	gov := governor.New(governor.Options{
		MinEnabledSources: cfg.GovernorMinEnabled,
		Cooldown:          cfg.GovernorCooldown,
		ProbationDuration: cfg.GovernorProbation,
	}, database, clk)

	// --- Blown-Account Recovery / Job Lease Queue ---
	jobQueue := jobqueue.New(jobqueue.Options{
		LeaseSeconds:      cfg.DefaultLeaseSeconds,
		HeartbeatInterval: cfg.JobHeartbeatInterval,
		TimeoutMinutes:    cfg.JobTimeoutMinutes,
	}, database)

	recoverySvc := recovery.New(database, jobQueue, bus, clk, uuid.NewString)

	// --- Ensemble Vote ---
	votePool := buildEnsemblePool(cfg, database)

	// --- Paper Runner Service ---
	runnerSvc := runner.NewService(runner.Deps{
		Store:      database,
		Cache:      bars,
		Authority:  authority,
		Calendar:   cal,
		Router:     rtr,
		Recovery:   recoverySvc,
		Bus:        bus,
		Clock:      clk,
		NewID:      uuid.NewString,
		Thresholds: archetype.NewCache(archetype.DefaultBaseConfig()),
	})

	// Live Data Router only carries metadata on the bus; the fleet refetches
	// the real bar from the Bar Cache Facade before dispatch (§4.K "the bus
	// is a side-channel, never the system of record").
	go dispatchBarsToFleet(rootCtx, bus, bars, runnerSvc)
	go stopRunnersOnAccountBlown(rootCtx, bus, database, runnerSvc)

	startExistingBots(rootCtx, database, runnerSvc)

	go jobQueue.RunTimeoutSweep(rootCtx)
	go jobQueue.RunWorker(rootCtx, "improving-worker-1", "IMPROVING", improvingJobHandler(database))

	go runGovernorLoop(rootCtx, gov, weightCache, database, runnerSvc)

	// --- Monitor ---
	mon := monitor.New(bus, monitor.LogSink{})
	mon.Start(rootCtx)
	sysMetrics := monitor.NewSystemMetrics()

	// --- Control Surface ---
	server := api.NewServer(api.Deps{
		Bus:      bus,
		Store:    database,
		Runners:  runnerSvc,
		Cache:    warm,
		Governor: gov,
		Jobs:     jobQueue,
		Vote:     votePool,
		Metrics:  sysMetrics,
		Keys:     km,

		OperatorToken: cfg.OperatorToken,
		JWTSecret:     resolveJWTSecret(cfg),
	})

	go func() {
		log.Printf(i18n.Get("ServerListening"), ":"+cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))

	cancel()
	if err := runnerSvc.KillSwitch(context.Background(), uuid.NewString); err != nil {
		log.Printf("runner: shutdown kill switch failed: %v", err)
	}
	tickIngestor.Stop()
}

// dispatchBarsToFleet subscribes to the shared bar topic, refetches the
// real bar from the Bar Cache Facade (the bus payload carries only
// symbol/timeframe/ts), and routes it to every runner trading that symbol.
func dispatchBarsToFleet(ctx context.Context, bus *events.Bus, bars *barcache.Facade, runners *runner.Service) {
	stream, unsub := bus.Subscribe(events.EventBar, 128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			payload, ok := msg.(events.BarPayload)
			if !ok {
				continue
			}
			rows, err := bars.GetBarsWithTimeframe(ctx, payload.Symbol, payload.Timeframe, barcache.GetBarsOptions{Limit: 1})
			if err != nil || len(rows) == 0 {
				log.Printf("main: could not refetch bar for %s/%s: %v", payload.Symbol, payload.Timeframe, err)
				continue
			}
			runners.DispatchBar(ctx, payload.Symbol, rows[len(rows)-1])
		}
	}
}

// stopRunnersOnAccountBlown reacts to EventAccountBlown (§4.N) by stopping
// every paper runner attached to the blown account. Recovery only decides
// demote-vs-requeue and publishes the event; it never imports the runner
// package (§9 cyclic-coupling break), so the stop has to happen here.
func stopRunnersOnAccountBlown(ctx context.Context, bus *events.Bus, database *db.Database, runners *runner.Service) {
	stream, unsub := bus.Subscribe(events.EventAccountBlown, 32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			payload, ok := msg.(events.AccountBlownPayload)
			if !ok {
				continue
			}
			bots, err := database.ListBotsByAccount(ctx, payload.AccountID)
			if err != nil {
				log.Printf("main: list bots for blown account %s failed: %v", payload.AccountID, err)
				continue
			}
			for _, b := range bots {
				if err := runners.StopBot(ctx, b.ID, core.ReasonAccountBlown); err != nil {
					log.Printf("main: stop bot %s on account %s blown failed: %v", b.ID, payload.AccountID, err)
				}
			}
		}
	}
}

// startExistingBots resumes every bot the ledger already knows about
// across a process restart, per stage. A bot instance left RUNNING by a
// process that died uncleanly is reconciled by the runner's own rehydrate
// path (§4.K "orphan reconcile"), not here.
func startExistingBots(ctx context.Context, database *db.Database, runners *runner.Service) {
	for _, stage := range []core.BotStage{core.StageTrials, core.StagePaper, core.StageShadow, core.StageCanary, core.StageLive} {
		bots, err := database.ListBotsByStage(ctx, string(stage))
		if err != nil {
			log.Printf("main: list bots for stage %s failed: %v", stage, err)
			continue
		}
		for _, b := range bots {
			if err := runners.StartBot(ctx, b.ID); err != nil {
				log.Printf("main: resume bot %s failed: %v", b.ID, err)
			}
		}
	}
}

// runGovernorLoop periodically rebalances adaptive weights and re-evaluates
// source enablement for every running bot. Until a second signal source
// (ensemble, macro risk) is wired into evaluateEntry, the governor tracks a
// single "archetype" source, always enabled and at full weight (§9 Open
// Question: single-source fusion).
func runGovernorLoop(ctx context.Context, gov *governor.Governor, weightCache *weights.Cache, database *db.Database, runners *runner.Service) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gov.ResetCycle()
			for _, botID := range runners.RunningBotIDs() {
				w := weightCache.Get(botID, time.Now(), func() []weights.BacktestResult { return nil })
				archetypeWeight := w["archetype"]
				if archetypeWeight == 0 {
					archetypeWeight = 1.0
				}
				if err := gov.Evaluate(ctx, botID, []governor.Input{
					{SourceID: "archetype", Weight: archetypeWeight, WeightFloor: 0, ProviderOffline: false, PerfScore: 0, BacktestCount: 0},
				}); err != nil {
					log.Printf("governor: evaluate cycle for bot %s failed: %v", botID, err)
				}
			}
		}
	}
}

// improvingJobHandler processes IMPROVING jobs enqueued by Blown-Account
// Recovery (§4.N): re-run the bot's latest generation through a trial re-eval
// and release it back to TRIALS on completion. The actual backtest/evolution
// engine is out of scope (§1 Non-goals); the handler only flips the bot's
// stage so downstream graduation checks can resume.
func improvingJobHandler(database *db.Database) jobqueue.Handler {
	return func(ctx context.Context, job db.BotJob) (string, error) {
		if err := database.UpdateBotStage(ctx, job.BotID, string(core.StageTrials), "improving job completed"); err != nil {
			return string(core.JobFailed), err
		}
		return string(core.JobDone), nil
	}
}

func buildEnsemblePool(cfg *config.Config, database *db.Database) *ensemble.Pool {
	if len(cfg.EnsembleProviderAddrs) == 0 {
		return ensemble.NewPool(nil, nil, database)
	}
	providers := make([]ensemble.ProviderConfig, 0, len(cfg.EnsembleProviderAddrs))
	transports := make(map[string]*ensemble.Transport, len(cfg.EnsembleProviderAddrs))
	for i, addr := range cfg.EnsembleProviderAddrs {
		id := strings.TrimSpace(addr)
		if id == "" {
			continue
		}
		tr, err := ensemble.Dial(id)
		if err != nil {
			log.Printf("ensemble: dial provider %d (%s) failed: %v", i, id, err)
			continue
		}
		providers = append(providers, ensemble.ProviderConfig{ID: id, BaseWeight: 1.0, Timeout: cfg.EnsembleVoteTimeout})
		transports[id] = tr
	}
	return ensemble.NewPool(providers, transports, database)
}

// resolveFeedVendorAPIKey prefers an encrypted Provider Credential row over
// the plaintext env var (§4.W), falling back to the env var when no
// credential has been provisioned yet or the key manager isn't configured.
func resolveFeedVendorAPIKey(km *crypto.KeyManager, cfg *config.Config, database *db.Database) string {
	if km == nil {
		return cfg.FeedVendorAPIKey
	}
	creds, err := database.ListProviderCredentialsByKind(context.Background(), "DATA_VENDOR")
	if err != nil || len(creds) == 0 {
		return cfg.FeedVendorAPIKey
	}
	secret, err := km.Decrypt(creds[0].EncryptedSecret)
	if err != nil {
		log.Printf("main: decrypt data vendor credential %s failed: %v", creds[0].ID, err)
		return cfg.FeedVendorAPIKey
	}
	return secret
}

// rotateProviderCredentials re-encrypts every Provider Credential row still
// under an old key version to the key manager's current version (§4.W key
// rotation), so bringing up a new MASTER_ENCRYPTION_KEY_V{n} env var sweeps
// the stored secrets forward without a separate migration step.
func rotateProviderCredentials(ctx context.Context, km *crypto.KeyManager, database *db.Database) (int, error) {
	creds, err := database.ListProviderCredentials(ctx)
	if err != nil {
		return 0, err
	}
	rotated := 0
	for _, c := range creds {
		if !km.NeedsRotation(c.EncryptedSecret) {
			continue
		}
		reEncrypted, err := km.ReEncrypt(c.EncryptedSecret)
		if err != nil {
			log.Printf("main: rotate credential %s failed: %v", c.ID, err)
			continue
		}
		if err := database.UpdateProviderCredentialSecret(ctx, c.ID, reEncrypted); err != nil {
			log.Printf("main: persist rotated credential %s failed: %v", c.ID, err)
			continue
		}
		rotated++
	}
	return rotated, nil
}

func resolveJWTSecret(cfg *config.Config) string {
	if cfg.MasterEncryptionKey != "" {
		return cfg.MasterEncryptionKey
	}
	return cfg.OperatorToken
}
