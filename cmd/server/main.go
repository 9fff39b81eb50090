package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentpay/escrow-engine/internal/config"
	"github.com/agentpay/escrow-engine/internal/db"
	"github.com/agentpay/escrow-engine/internal/events"
	httpHandlers "github.com/agentpay/escrow-engine/internal/http/handlers"
	"github.com/agentpay/escrow-engine/internal/http/middleware"
	httpRouter "github.com/agentpay/escrow-engine/internal/http/router"
	"github.com/agentpay/escrow-engine/internal/logger"
	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/repository"
	"github.com/agentpay/escrow-engine/internal/service"
	"github.com/agentpay/escrow-engine/internal/storage"
	"github.com/agentpay/escrow-engine/internal/transfer"
	"github.com/agentpay/escrow-engine/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: config: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init(cfg.LogLevel)
	}

	// Persistence. The memory store exists for embedded and local runs;
	// everything durable goes through PostgreSQL.
	var (
		dbConn    *sqlx.DB
		store     service.AgreementStore
		stats     service.StatsAggregator
		journal   service.Journal
		registry  service.RoleRegistry
		evidence  service.EvidenceRecords
		txHandler *httpHandlers.TransactionHandler
	)

	staticRegistry := repository.NewStaticRoleRegistry(cfg.AdminIDs, cfg.ArbitratorIDs)

	if cfg.Store == "memory" {
		store = repository.NewMemoryAgreementStore()
		stats = repository.NewMemoryStatsAggregator()
		registry = staticRegistry
	} else {
		dbConn, err = db.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("main: database: %v", err)
		}
		defer safeClose(dbConn)

		if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
			log.Fatalf("main: migrations: %v", err)
		}

		store = repository.NewAgreementRepository(dbConn)
		stats = repository.NewStatsRepository(dbConn)
		journalRepo := repository.NewTransactionRepository(dbConn)
		journal = journalRepo
		txHandler = httpHandlers.NewTransactionHandler(journalRepo)
		evidence = repository.NewEvidenceRepository(dbConn)
		registry = newCombinedRegistry(staticRegistry, repository.NewRoleRepository(dbConn))
	}

	// Settlement adapter.
	var (
		adapter transfer.Adapter
		ledger  *transfer.LedgerAdapter
	)
	switch cfg.Transfer {
	case "eth":
		ethAdapter, err := transfer.NewEthAdapter(ctx, transfer.EthAdapterConfig{
			RPCURL:        cfg.EthRPCURL,
			PrivateKeyHex: cfg.EthPrivateKey,
		})
		if err != nil {
			log.Fatalf("main: eth adapter: %v", err)
		}
		adapter = ethAdapter
	default:
		if dbConn == nil {
			log.Fatalf("main: the ledger adapter requires the postgres store")
		}
		ledger = transfer.NewLedgerAdapter(dbConn, cfg.EscrowAccount)
		adapter = ledger
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	feeCfg, err := service.NewFeeConfig(cfg.FeeBps, cfg.FeeCollector)
	if err != nil {
		log.Fatalf("main: fee config: %v", err)
	}

	gate := service.NewAuthGate(registry)

	escrowService := service.NewEscrowService(store, adapter, gate, stats, feeCfg, cfg.EscrowAccount, cfg.AutoReleaseTimeout)
	if journal != nil {
		escrowService.SetJournal(journal)
	}

	// Audit event fan-out: log, websocket observers, optional AMQP queue.
	hub := ws.NewHub()
	go hub.Run()

	metrics := middleware.NewMetrics()

	sinks := []events.Sink{
		events.NewLogSink(),
		events.NewWSSink(hub, partyResolver(store)),
		events.NewMetricSink(metrics.IncTransition),
	}
	if cfg.AMQPURL != "" {
		amqpSink, err := events.NewAMQPSink(events.AMQPConfig{
			URL:     cfg.AMQPURL,
			Queue:   cfg.AMQPQueue,
			Durable: true,
		})
		if err != nil {
			log.Fatalf("main: amqp sink: %v", err)
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}
	escrowService.SetEventSink(events.NewFanout(sinks...))

	// Dispute evidence.
	var evidenceHandler *httpHandlers.EvidenceHandler
	if evidence != nil {
		files, err := storage.NewEvidenceStorage(cfg.EvidencePath, cfg.MaxUploadSizeMB)
		if err != nil {
			log.Fatalf("main: evidence storage: %v", err)
		}
		evidenceService := service.NewEvidenceService(store, gate, files, evidence)
		evidenceHandler = httpHandlers.NewEvidenceHandler(evidenceService)
	}

	// HTTP handlers.
	escrowHandler := httpHandlers.NewEscrowHandler(escrowService)
	statsHandler := httpHandlers.NewStatsHandler(escrowService)
	adminHandler := httpHandlers.NewAdminHandler(gate, feeCfg, tokenManager, cfg.AdminSecretHash)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	var walletHandler *httpHandlers.WalletHandler
	if ledger != nil {
		walletHandler = httpHandlers.NewWalletHandler(ledger)
	}

	engine := httpRouter.SetupRouter(cfg, escrowHandler, statsHandler, txHandler,
		evidenceHandler, walletHandler, adminHandler, wsHandler, healthHandler,
		metrics, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: http shutdown: %v", err)
		}
	}()

	log.Printf("main: HTTP server listening on port %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: server stopped with error: %v", err)
	}
}

// partyResolver routes each event to both parties of its agreement.
func partyResolver(store service.AgreementStore) events.Resolver {
	return func(ctx context.Context, event models.Event) []uuid.UUID {
		agreement, err := store.Get(ctx, event.AgreementID)
		if err != nil {
			return nil
		}
		return []uuid.UUID{agreement.Payer, agreement.Payee}
	}
}

// combinedRegistry consults the config-backed role lists first and falls
// back to the database registry.
type combinedRegistry struct {
	primary  service.RoleRegistry
	fallback service.RoleRegistry
}

func newCombinedRegistry(primary, fallback service.RoleRegistry) service.RoleRegistry {
	return &combinedRegistry{primary: primary, fallback: fallback}
}

func (r *combinedRegistry) HasRole(ctx context.Context, userID uuid.UUID, role string) (bool, error) {
	ok, err := r.primary.HasRole(ctx, userID, role)
	if err != nil || ok {
		return ok, err
	}
	return r.fallback.HasRole(ctx, userID, role)
}

func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: database close: %v", err)
	}
}
