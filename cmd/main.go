package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/engine"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/llm"
	"github.com/Varun-Patkar/RebirthRealm/internal/logging"
	"github.com/Varun-Patkar/RebirthRealm/internal/rag"
	"github.com/Varun-Patkar/RebirthRealm/internal/storage"
	"github.com/Varun-Patkar/RebirthRealm/internal/web"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "rebirthrealm",
	Short:        "Interactive branching narrative engine",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd, timelineCmd, exportCmd)
}

func main() {
	// a missing .env is fine; the config file and real env still apply
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds everything a command needs, and how to release it.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *engine.StoryEngine
	gateway *llm.Gateway
	hub     *web.ProgressHub
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}

// setup loads config and connects storage, the model gateway and the optional
// Redis lock and Qdrant index. Redis and Qdrant failures degrade to the local
// lock and the fuzzy index. withHub attaches a websocket progress hub.
func setup(ctx context.Context, withHub bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	a.closers = append(a.closers, store)
	logger.Info("storage connected", "driver", cfg.Storage.Driver)

	gateway, err := llm.New(cfg.Model, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway = gateway
	a.closers = append(a.closers, gateway)

	var locker interfaces.Locker
	if cfg.Redis.Enabled {
		redisLocker, err := storage.NewRedisLocker(cfg.Redis, cfg.Engine.LockTTL, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, using in-process locks", "error", err)
		} else {
			locker = redisLocker
			a.closers = append(a.closers, redisLocker)
			logger.Info("redis connected")
		}
	}

	var index interfaces.ChapterIndex
	if cfg.Qdrant.Enabled {
		qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		qdrantIndex, err := rag.NewQdrantIndex(qctx, cfg.Qdrant, rag.NewEmbeddingService(cfg.Embedding), logger)
		cancel()
		if err != nil {
			logger.Warn("failed to connect to Qdrant, using fuzzy chapter search", "error", err)
		} else {
			index = qdrantIndex
			a.closers = append(a.closers, qdrantIndex)
			logger.Info("qdrant connected", "collection", cfg.Qdrant.Collection)
		}
	}

	var sink interfaces.EventSink
	if withHub {
		a.hub = web.NewProgressHub(logger)
		sink = a.hub
	}

	a.engine, err = engine.NewStoryEngine(engine.Options{
		Gateway: gateway,
		Store:   store,
		Index:   index,
		Locker:  locker,
		Sink:    sink,
		Config:  cfg.Engine,
		Logger:  logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	// load the model in the background so the server answers status calls meanwhile
	go func() {
		initCtx, cancel := context.WithTimeout(ctx, a.cfg.Model.InitTimeout)
		defer cancel()
		if _, err := a.engine.InitializeModel(initCtx, func(p interfaces.InitProgress) {
			a.logger.Info("model loading", "progress", p.Progress, "text", p.Text)
		}); err != nil {
			a.logger.Error("model initialization failed", "error", err)
		}
	}()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      web.NewRouter(a.engine, a.hub, a.logger),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", "error", err)
	}
	a.logger.Info("server stopped")
	return nil
}
