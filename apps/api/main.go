package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	boardhandler "github.com/dehesalabs/trazar/domains/board/be/handler"
	boardrepo "github.com/dehesalabs/trazar/domains/board/be/repo"
	boardservice "github.com/dehesalabs/trazar/domains/board/be/service"
	lotshandler "github.com/dehesalabs/trazar/domains/lots/be/handler"
	lotsrepo "github.com/dehesalabs/trazar/domains/lots/be/repo"
	lotsservice "github.com/dehesalabs/trazar/domains/lots/be/service"
	movementshandler "github.com/dehesalabs/trazar/domains/movements/be/handler"
	movementsrepo "github.com/dehesalabs/trazar/domains/movements/be/repo"
	movementsservice "github.com/dehesalabs/trazar/domains/movements/be/service"
	templateshandler "github.com/dehesalabs/trazar/domains/templates/be/handler"
	templatesrepo "github.com/dehesalabs/trazar/domains/templates/be/repo"
	templatesservice "github.com/dehesalabs/trazar/domains/templates/be/service"
	traceabilityhandler "github.com/dehesalabs/trazar/domains/traceability/be/handler"
	traceabilityrepo "github.com/dehesalabs/trazar/domains/traceability/be/repo"
	traceabilityservice "github.com/dehesalabs/trazar/domains/traceability/be/service"
	zoneshandler "github.com/dehesalabs/trazar/domains/zones/be/handler"
	zonesrepo "github.com/dehesalabs/trazar/domains/zones/be/repo"
	zonesservice "github.com/dehesalabs/trazar/domains/zones/be/service"
	platformlogging "github.com/dehesalabs/trazar/platform/go/logging"
	"github.com/dehesalabs/trazar/platform/go/metrics"
	platformmiddleware "github.com/dehesalabs/trazar/platform/go/middleware"
	"github.com/dehesalabs/trazar/platform/go/persistence"
)

type config struct {
	Port                  string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel              string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL           string        `env:"DATABASE_URL,required"`
	SnapshotParentOnSplit bool          `env:"SNAPSHOT_PARENT_ON_SPLIT" envDefault:"false"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	lotStore, err := persistence.NewLotStore(pool)
	if err != nil {
		logger.Fatal("init lot store", zap.Error(err))
	}
	zoneStore, err := persistence.NewZoneStore(pool)
	if err != nil {
		logger.Fatal("init zone store", zap.Error(err))
	}
	stayStore, err := persistence.NewStayStore(pool)
	if err != nil {
		logger.Fatal("init stay store", zap.Error(err))
	}
	snapshotStore, err := persistence.NewSnapshotStore(pool)
	if err != nil {
		logger.Fatal("init snapshot store", zap.Error(err))
	}
	readingStore, err := persistence.NewReadingStore(pool)
	if err != nil {
		logger.Fatal("init reading store", zap.Error(err))
	}
	templateStore, err := persistence.NewTemplateStore(pool)
	if err != nil {
		logger.Fatal("init template store", zap.Error(err))
	}

	coreDB := persistence.NewCoreDB(pool)

	zoneRepo := zonesrepo.NewPostgresRepository(zoneStore)
	zoneService := zonesservice.New(zoneRepo)
	zoneHTTPHandler := zoneshandler.New(zoneService, logger)

	lotRepo := lotsrepo.NewPostgresRepository(lotStore, templateStore)
	lotService := lotsservice.New(lotRepo)
	lotHTTPHandler := lotshandler.New(lotService, logger)

	templateRepo := templatesrepo.NewPostgresRepository(templateStore)
	templateService := templatesservice.New(templateRepo)
	templateHTTPHandler := templateshandler.New(templateService, logger)

	traceabilityRepo := traceabilityrepo.NewPostgresRepository(lotStore, stayStore, readingStore, snapshotStore)
	traceabilityService := traceabilityservice.New(traceabilityRepo)
	traceabilityHTTPHandler := traceabilityhandler.New(traceabilityService, logger)

	// The traceability service doubles as the snapshot generator so split
	// moves can certify sublots inside the move transaction.
	movementRepo := movementsrepo.NewPostgresRepository(coreDB, lotStore, zoneStore, stayStore, traceabilityService)
	movementService := movementsservice.New(movementRepo, movementsservice.Config{
		SnapshotParentOnSplit: cfg.SnapshotParentOnSplit,
	})
	movementHTTPHandler := movementshandler.New(movementService, logger)

	boardRepo := boardrepo.NewPostgresRepository(lotStore, zoneStore, stayStore)
	boardService := boardservice.New(boardRepo)
	boardHTTPHandler := boardhandler.New(boardService, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", metrics.Handler())

	registerDocsRoutes(rootRouter, logger)

	// Public QR resolution lives outside /api/v1: the token is the only
	// credential a consumer scanning a label has.
	traceabilityHTTPHandler.MountPublic(rootRouter)

	apiRouter := chi.NewRouter()
	apiRouter.Use(mustNewSpecValidator(logger, contractPath))

	zoneHTTPHandler.Mount(apiRouter)
	lotHTTPHandler.Mount(apiRouter)
	templateHTTPHandler.Mount(apiRouter)
	traceabilityHTTPHandler.Mount(apiRouter)
	movementHTTPHandler.Mount(apiRouter)
	boardHTTPHandler.Mount(apiRouter)

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
