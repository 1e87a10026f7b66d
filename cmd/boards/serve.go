package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/activity"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/app"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/cache"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/config"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/export"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/gitrepo"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/search"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

var (
	inMemory bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&inMemory, "memory", false, "keep all data in process instead of Postgres")
}

func engineConfig(g config.Grid) grid.Config {
	return grid.Config{
		DoneLabels:       g.DoneLabels,
		FormulaPrecision: int32(g.FormulaPrecision),
		RollupPrecision:  int32(g.RollupPrecision),
		CascadeLimit:     g.CascadeLimit,
	}
}

// openStore connects to Postgres and applies pending migrations.
func openStore(ctx context.Context, cfg config.Config) (*sql.DB, *store.PostgresStore, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, store.NewPostgresStore(db), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if logLevel == "" {
		configureLogging(cfg.LogLevel)
	}
	ctx := cmd.Context()

	var (
		db        *sql.DB
		dataStore store.Store
	)
	if inMemory {
		log.Warn("using the in-memory store; data is lost on exit")
		dataStore = store.NewMemoryStore()
	} else {
		var pg *store.PostgresStore
		db, pg, err = openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		dataStore = pg
	}

	engine := grid.New(dataStore, grid.WithConfig(engineConfig(cfg.Grid)))
	checks := map[string]app.Check{}

	var snapshots app.SnapshotReader
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		stream := activity.NewRedisStreamWithClient(client, cfg.Grid.ActivityStream)
		engine.AddCommitHook(stream.Hook())
		checks["redis"] = stream.Ping

		snapshotCache := cache.NewSnapshotCache(client, engine, cfg.Grid.SnapshotTTL())
		engine.AddCommitHook(snapshotCache.Hook())
		snapshots = snapshotCache
		log.WithField("stream", cfg.Grid.ActivityStream).Info("redis activity stream and snapshot cache enabled")
	}

	var fallback search.Searcher = search.NewScan(engine)
	if db != nil {
		fallback = search.NewPgSearch(db)
	}
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
		index = meili
		checks["search"] = func(context.Context) error {
			if !meili.Healthy() {
				return errors.New("meilisearch unhealthy")
			}
			return nil
		}
	}
	searchService := search.NewService(index, fallback)
	engine.AddCommitHook(searchService.Hook(engine))

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("failed to create repos dir: %w", err)
	}
	history := gitrepo.New(cfg.ReposDir)
	engine.AddCommitHook(history.Hook(engine))

	exportOpts := []export.Option{export.WithPandoc(cfg.PandocPath)}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := export.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.WithError(err).Warn("object storage unavailable; stored exports disabled")
		} else {
			exportOpts = append(exportOpts, export.WithObjectStore(objects))
		}
	}

	service := app.New(app.Deps{
		Engine:    engine,
		Store:     dataStore,
		Snapshots: snapshots,
		Search:    searchService,
		Export:    export.NewService(engine, exportOpts...),
		History:   history,
		Checks:    checks,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("boards API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case <-sigCtx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	searchService.Wait()
	return nil
}
