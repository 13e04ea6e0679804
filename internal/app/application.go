package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"whatyousayin/internal/api"
	"whatyousayin/internal/auth"
	"whatyousayin/internal/bridge"
	"whatyousayin/internal/config"
	"whatyousayin/internal/database"
	"whatyousayin/internal/dispatch"
	"whatyousayin/internal/moderation"
	"whatyousayin/internal/pipeline"
	ws "whatyousayin/internal/websocket"
	dbconfig "whatyousayin/pkg/database"
)

// Application owns every component and wires them in dependency order:
// store, migrations, auth, registries, bridge, dispatcher, moderation,
// pipeline, handlers, HTTP server. All dependencies are injected; no
// package-level singletons.
type Application struct {
	config     *config.Config
	log        *slog.Logger
	store      *database.Manager
	registry   *ws.Registry
	presence   *ws.Presence
	bridge     *bridge.RedisBridge
	dispatcher *dispatch.Dispatcher
	server     *http.Server

	bridgeCancel context.CancelFunc
}

func New(cfg *config.Config, log *slog.Logger) (*Application, error) {
	a := &Application{config: cfg, log: log}

	if err := a.initStore(); err != nil {
		return nil, err
	}
	if err := a.initComponents(); err != nil {
		a.store.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) initStore() error {
	dbCfg := dbconfig.DefaultConfig()
	dbCfg.DatabasePath = a.config.DatabasePath

	store, err := database.NewManager(dbCfg, a.log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(store.DB())
	if err := migrations.ApplyMigrations(); err != nil {
		store.Close()
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		store.Close()
		return fmt.Errorf("schema validation failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.SeedDefaultRooms(ctx); err != nil {
		store.Close()
		return fmt.Errorf("failed to seed rooms: %w", err)
	}

	a.store = store
	return nil
}

func (a *Application) initComponents() error {
	tokens := auth.NewTokenManager(a.config.JWTSecret, a.config.AuthTokenDuration)

	a.registry = ws.NewRegistry()
	a.presence = ws.NewPresence()

	if a.config.RedisURL != "" {
		b, err := bridge.NewRedisBridge(a.config.RedisURL, a.log)
		if err != nil {
			return fmt.Errorf("failed to connect bridge: %w", err)
		}
		a.bridge = b
	} else {
		a.log.Info("no redis url configured, running single-instance")
	}

	// The dispatcher takes the bridge as a nilable publisher; the typed
	// nil must not leak into the interface value.
	if a.bridge != nil {
		a.dispatcher = dispatch.NewDispatcher(a.registry, a.presence, a.bridge, a.log)
	} else {
		a.dispatcher = dispatch.NewDispatcher(a.registry, a.presence, nil, a.log)
	}

	var gate *moderation.RemoteGate
	if a.config.ModerationURL != "" {
		gate = moderation.NewRemoteGate(a.config.ModerationURL, a.config.ModerationTimeout)
	} else {
		a.log.Info("no moderation url configured, using local filter only")
	}

	var filter *moderation.Filter
	var err error
	if a.config.DenylistPath != "" {
		filter, err = moderation.NewFilterFromFile(a.config.DenylistPath)
		if err != nil {
			return fmt.Errorf("failed to load deny list: %w", err)
		}
	} else {
		filter, err = moderation.NewFilter(nil)
		if err != nil {
			return fmt.Errorf("failed to build filter: %w", err)
		}
	}

	pipelineCfg := pipeline.Config{
		Store:      a.store,
		Fallback:   filter,
		Dispatcher: a.dispatcher,
		Limiter:    pipeline.NewMessageLimiter(a.config.MessageRateLimit),
		MaxRunes:   a.config.MaxContentLength,
		Log:        a.log,
	}
	if gate != nil {
		pipelineCfg.Gate = gate
	}
	pl := pipeline.New(pipelineCfg)

	wsHandler := ws.NewHandler(a.registry, a.presence, a.dispatcher, pl, a.store, tokens, ws.HandlerConfig{
		PingInterval: a.config.WSPingInterval,
		ReadTimeout:  a.config.WSReadTimeout,
		WriteTimeout: a.config.WSWriteTimeout,
		SendBuffer:   a.config.WSSendBuffer,
	}, a.log)

	apiServer := api.NewServer(a.store, tokens, a.presence, a.registry, a.log)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("GET /ws/system", wsHandler.HandleSystem)
	mux.HandleFunc("GET /ws/{room_id}", wsHandler.HandleRoom)

	a.server = &http.Server{
		Addr:         a.config.Addr(),
		Handler:      mux,
		ReadTimeout:  a.config.HTTPReadTimeout,
		WriteTimeout: a.config.HTTPWriteTimeout,
	}
	return nil
}

// Start binds the listener and serves until Stop. The explicit Listen
// call surfaces bind failures immediately instead of from the serve
// goroutine.
func (a *Application) Start() error {
	if a.config.UsingDefaultSecret() {
		a.log.Warn("running with the default jwt secret, set JWT_SECRET in production")
	}

	if a.bridge != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.bridgeCancel = cancel
		go a.bridge.Run(ctx, a.dispatcher)
	}

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", a.server.Addr, err)
	}

	a.log.Info("server listening", "addr", a.server.Addr)
	if err := a.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts components down in reverse order: HTTP server first so no
// new connections arrive, then the bridge, then the store.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error

	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = err
	}

	for _, conn := range a.registry.Connections() {
		_ = conn.Close()
	}

	if a.bridgeCancel != nil {
		a.bridgeCancel()
	}
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	a.log.Info("shutdown complete")
	return firstErr
}
