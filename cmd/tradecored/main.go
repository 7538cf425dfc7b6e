// Command tradecored runs the trading core kernel's background workers —
// the outbox publisher, the availability TTL sweeper, the matching safety
// sweep, and the matching job queue — and builds the internal/app/gateway
// facade the (out-of-scope) transport layer would bind to. There is no
// HTTP/WebSocket server here; this binary is the process a transport or a
// test harness imports against.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domavail "github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/domain/unit"
	"github.com/rnrlcrm/tradecore/internal/app/external"
	"github.com/rnrlcrm/tradecore/internal/app/gateway"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	svcavailability "github.com/rnrlcrm/tradecore/internal/app/services/availability"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
	"github.com/rnrlcrm/tradecore/internal/app/services/eventstore"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	"github.com/rnrlcrm/tradecore/internal/app/services/matching"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	svcrequirement "github.com/rnrlcrm/tradecore/internal/app/services/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
	"github.com/rnrlcrm/tradecore/internal/app/system"
	"github.com/rnrlcrm/tradecore/internal/platform/database"
	"github.com/rnrlcrm/tradecore/internal/platform/migrations"
	"github.com/rnrlcrm/tradecore/pkg/config"
	"github.com/rnrlcrm/tradecore/pkg/eventbus"
	"github.com/rnrlcrm/tradecore/pkg/logger"
	"github.com/rnrlcrm/tradecore/pkg/metrics"
	"github.com/rnrlcrm/tradecore/pkg/pgnotify"
	"github.com/rnrlcrm/tradecore/pkg/storage/postgres"
	"github.com/rnrlcrm/tradecore/pkg/tracing"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for the Prometheus /metrics endpoint (empty disables it)")
	seedDemo := flag.Bool("seed-demo", false, "seed one demo partner/commodity/availability/requirement and run the matcher once at startup (in-memory mode only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg := logger.New(logger.LoggingConfig(cfg.Logging))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if provider, err := tracing.NewProvider(rootCtx, cfg.Tracing); err != nil {
		lg.WithField("error", err).Warn("tracer provider setup failed, continuing without tracing")
	} else {
		tracing.InstallGlobal(provider, "tradecore")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
	}

	dsnVal := *dsn
	if dsnVal == "" {
		dsnVal = cfg.Database.DSN
	}

	var (
		db  *sql.DB
		bus *pgnotify.Bus
	)
	if dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		defer db.Close()
		if cfg.Database.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
		}
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		bus, err = pgnotify.NewWithDB(db, dsnVal)
		if err != nil {
			lg.WithField("error", err).Warn("pgnotify bus unavailable, publisher will log instead of publishing")
		}
	}

	app := build(cfg, lg, db, bus)

	services := []system.Service{app.outboxWorker, app.ttlSweeper, app.safetySweep, app.matchQueue}
	for _, svc := range services {
		if err := svc.Start(rootCtx); err != nil {
			log.Fatalf("start %s: %v", svc.Name(), err)
		}
	}
	lg.Info("tradecore core started")

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.WithField("error", err).Error("metrics server stopped")
			}
		}()
		lg.WithField("addr", *metricsAddr).Info("metrics endpoint listening")
	}

	if *seedDemo {
		if db != nil {
			lg.Warn("--seed-demo is only supported in in-memory mode, ignoring")
		} else if err := app.seedAndRunDemo(rootCtx); err != nil {
			lg.WithField("error", err).Error("demo seed failed")
		}
	}

	<-rootCtx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, svc := range services {
		if err := svc.Stop(shutdownCtx); err != nil {
			lg.WithField("service", svc.Name()).WithField("error", err).Warn("service stop error")
		}
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if bus != nil {
		_ = bus.Close()
	}
}

// components bundles the long-lived pieces main needs to start/stop, the
// Gateway facade, and (in-memory mode only) the concrete seed stores
// seedAndRunDemo writes into directly.
type components struct {
	gw           *gateway.Gateway
	outboxWorker *svcoutbox.Worker
	ttlSweeper   *svcavailability.Sweeper
	safetySweep  *matching.SafetySweep
	matchQueue   *matching.Queue

	memPartners   *memory.PartnerStore
	memCommodities *memory.CommodityStore
}

// build wires every service exactly once, choosing PostgreSQL-backed
// stores when db is non-nil and in-memory stores otherwise (an empty
// --dsn falls back to the in-memory branch).
func build(cfg *config.Config, lg *logger.Logger, db *sql.DB, bus *pgnotify.Bus) *components {
	var (
		partnerStore    capability.PartnerStore
		locationStore   svcavailability.LocationResolver
		commodityStore  svcavailability.CommodityLookup
		availabilityStore availabilityFullStore
		requirementStore  requirementFullStore
		matchStoreS     matching.MatchStore
		outboxStore     svcoutbox.Store
		auditStore      eventstore.Store
		creditStore     risk.CreditChecker
		circularStore   risk.CircularTradeChecker
		publisher       external.EventPublisher

		memPartners    *memory.PartnerStore
		memCommodities *memory.CommodityStore
	)

	if db != nil {
		partnerStore = postgres.NewPartnerStore(db)
		locationStore = postgres.NewLocationStore(db)
		commodityStore = postgres.NewCommodityStore(db)
		availabilityStore = postgres.NewAvailabilityStore(db)
		requirementStore = postgres.NewRequirementStore(db)
		matchStoreS = postgres.NewMatchStore(db)
		outboxStore = postgres.NewOutboxStore(db)
		auditStore = postgres.NewEventStore(db)
		creditStore = postgres.NewCreditStore(db)
		circularStore = postgres.NewCircularTradeStore(db)
	} else {
		memPartners = memory.NewPartnerStore()
		memCommodities = memory.NewCommodityStore()
		partnerStore = memPartners
		locationStore = memory.NewLocationStore()
		commodityStore = memCommodities
		availabilityStore = memory.NewAvailabilityStore()
		requirementStore = memory.NewRequirementStore()
		matchStoreS = memory.NewMatchStore()
		outboxStore = memory.NewOutboxStore()
		auditStore = memory.NewEventStore()
		creditStore = memory.NewCreditStore()
		circularStore = memory.NewCircularTradeStore()
	}

	audit := eventstore.New(auditStore)

	if bus != nil {
		publisher = eventbus.New(bus)
	} else {
		publisher = external.NewLogPublisher(lg)
	}

	insiderValidator := insider.New(partnerStore)

	riskEngine := risk.New(
		partnerStore,
		insiderValidator,
		creditStore,
		circularStore,
		nil, // MLInference: no model-serving endpoint wired; Tier-2 always falls back to the deterministic rule-only scorer.
		risk.Config{
			Tier1Budget:   time.Duration(cfg.Risk.Tier1BudgetMillis) * time.Millisecond,
			Tier2Budget:   time.Duration(cfg.Risk.Tier2BudgetMillis) * time.Millisecond,
			PassThreshold: cfg.Risk.PassThreshold,
			WarnThreshold: cfg.Risk.WarnThreshold,
			RuleWeight:    cfg.Risk.RuleWeight,
			MLWeight:      cfg.Risk.MLWeight,
		},
		lg,
	)

	capabilityUOW := svcoutbox.NewUnitOfWork()
	capabilityDetector := capability.New(partnerStore, capabilityUOW, lg)

	availabilityUOW := svcoutbox.NewUnitOfWork()
	availabilitySvc := svcavailability.New(availabilityStore, commodityStore, locationStore, partnerStore, riskEngine, availabilityUOW, lg)

	matchingUOW := svcoutbox.NewUnitOfWork()
	matchEngine := matching.New(
		requirementStore,
		availabilityStore,
		commodityStore,
		matchStoreS,
		availabilitySvc,
		nil, // Allocator bound below via SetAllocator once requirementSvc exists.
		insiderValidator,
		riskEngine,
		matching.NewFingerprintCache(),
		matchingUOW,
		matching.SnapshotFromConfig(cfg.Scoring),
		lg,
	)
	matchQueue := matching.NewQueue(matchEngine, matching.DefaultMaxInflight, matching.DefaultWorkerCount, lg)

	requirementUOW := svcoutbox.NewUnitOfWork()
	requirementSvc := svcrequirement.New(
		requirementStore,
		commodityStore,
		partnerStore,
		requirementStore,
		matchQueue,
		svcrequirement.NewLogForwarder(lg),
		riskEngine,
		requirementUOW,
		nil,
		lg,
	)
	matchEngine.SetAllocator(requirementSvc)

	publisherSvc := svcoutbox.NewPublisher(outboxStore, publisher, nil, lg)
	outboxWorker := svcoutbox.NewWorker(publisherSvc, cfg.Outbox.WorkerCount, time.Duration(cfg.Outbox.PollInterval)*time.Millisecond, cfg.Outbox.BatchSize, lg)

	ttlSweeper := svcavailability.NewSweeper(availabilitySvc, 1*time.Hour, 100, lg)
	safetySweep := matching.NewSafetySweep(requirementStore, matchQueue, matching.DefaultSweepInterval, matching.DefaultSweepBatchSize, lg)

	gw := gateway.New(
		availabilitySvc, requirementSvc, matchEngine, riskEngine, capabilityDetector,
		partnerStore,
		availabilityUOW, requirementUOW, matchingUOW, capabilityUOW,
		outboxStore,
		audit,
		lg,
	)

	return &components{
		gw:             gw,
		outboxWorker:   outboxWorker,
		ttlSweeper:     ttlSweeper,
		safetySweep:    safetySweep,
		matchQueue:     matchQueue,
		memPartners:    memPartners,
		memCommodities: memCommodities,
	}
}

// availabilityFullStore is the union of services/availability.Store and
// services/matching.AvailabilityStore; the concrete memory/postgres
// AvailabilityStore implements both, so build can hold one value typed
// for whichever seam a constructor asks for.
type availabilityFullStore interface {
	Create(ctx context.Context, a *domavail.Availability) error
	Get(ctx context.Context, id string) (*domavail.Availability, error)
	UpdateWithVersion(ctx context.Context, a *domavail.Availability) (bool, error)
	ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]*domavail.Availability, error)
	ListOpenByCommodityLocation(ctx context.Context, commodityID, country, region string, limit int) ([]*domavail.Availability, error)
}

// requirementFullStore does the same for the requirement store: the
// concrete memory/postgres RequirementStore satisfies
// services/requirement.Store, services/requirement.TrustHistory, and
// services/matching.RequirementStore all at once.
type requirementFullStore interface {
	Create(ctx context.Context, r *domreq.Requirement) error
	Get(ctx context.Context, id string) (*domreq.Requirement, error)
	UpdateWithVersion(ctx context.Context, r *domreq.Requirement) (bool, error)
	ListOpenForSweep(ctx context.Context, limit int) ([]*domreq.Requirement, error)
	FulfilledCount(ctx context.Context, buyerID string) (int, int, error)
}

// seedAndRunDemo seeds a buyer, a seller, and a commodity directly into
// the in-memory stores, then drives the Gateway through a full
// create-availability / create-requirement / find-matches cycle, so a
// fresh checkout can be smoke-tested with no transport layer attached.
func (c *components) seedAndRunDemo(ctx context.Context) error {
	sec := security.Context{ActorID: "demo", TraceID: uuid.NewString()}
	now := time.Now().UTC()

	seller := &party.Partner{
		ID: uuid.NewString(), EntityClass: party.ClassBusinessEntity, HomeCountry: "IN",
		Capabilities: party.Capabilities{party.CapDomesticSellIndia: true},
		CreatedAt:    now, UpdatedAt: now,
	}
	buyer := &party.Partner{
		ID: uuid.NewString(), EntityClass: party.ClassBusinessEntity, HomeCountry: "IN",
		Capabilities: party.Capabilities{party.CapDomesticBuyIndia: true},
		CreatedAt:    now, UpdatedAt: now,
	}
	c.memPartners.Put(seller)
	c.memPartners.Put(buyer)

	com := &commodity.Commodity{
		ID:                    uuid.NewString(),
		Name:                  "Raw Cotton",
		BaseUnit:              string(unit.KG),
		TradeUnit:             string(unit.CANDY),
		RateUnit:              string(unit.CANDY),
		StandardWeightPerUnit: decimal.NewFromInt(1),
	}
	c.memCommodities.Put(com)

	avail, err := c.gw.CreateAvailability(ctx, sec, svcavailability.CreateInput{
		SellerID:         seller.ID,
		CommodityID:      com.ID,
		AdHocAddress:     "Warehouse 1",
		AdHocLat:         19.0760,
		AdHocLon:         72.8777,
		Country:          "IN",
		Region:           "MH",
		Quantity:         decimal.NewFromInt(100),
		TradeUnit:        unit.CANDY,
		BasePrice:        decimal.NewFromInt(8000),
		PriceUnit:        unit.CANDY,
		ValidFrom:        now,
		ValidUntil:       now.Add(30 * 24 * time.Hour),
		MarketVisibility: domavail.VisibilityPublic,
	})
	if err != nil {
		return err
	}

	req, err := c.gw.CreateRequirement(ctx, sec, svcrequirement.CreateInput{
		BuyerID:     buyer.ID,
		CommodityID: com.ID,
		Quantity:    decimal.NewFromInt(70),
		TradeUnit:   unit.CANDY,
		DeliveryLocations: []domreq.DeliveryLocation{{
			Country: "IN", Region: "MH", City: "Mumbai", Lat: 19.0760, Lon: 72.8777,
		}},
		Intent: domreq.IntentDirectBuy,
	})
	if err != nil {
		return err
	}

	matches, err := c.gw.FindMatchesForRequirement(ctx, sec, req.ID)
	if err != nil {
		return err
	}
	log.Printf("demo seed: availability=%s requirement=%s matches=%d", avail.ID, req.ID, len(matches))
	return nil
}
