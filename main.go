package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
	"github.com/yunyaopan/pcd-workflowplus/pkg/config"
	"github.com/yunyaopan/pcd-workflowplus/pkg/database"
	"github.com/yunyaopan/pcd-workflowplus/pkg/editor"
	"github.com/yunyaopan/pcd-workflowplus/pkg/handlers"
	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/logging"
	"github.com/yunyaopan/pcd-workflowplus/pkg/mcp"
	"github.com/yunyaopan/pcd-workflowplus/pkg/mcp/tools"
	"github.com/yunyaopan/pcd-workflowplus/pkg/middleware"
	"github.com/yunyaopan/pcd-workflowplus/pkg/repositories"
	"github.com/yunyaopan/pcd-workflowplus/pkg/sandbox"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("codegen_provider", cfg.CodeGen.Provider),
		zap.Bool("redis", cfg.Redis.Host != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsLocal() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Storage
	dbURL := cfg.Database.ConnectionString()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            dbURL,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("connect to database %s: %w", logging.SanitizeConnectionString(dbURL), err)
	}
	defer db.Close()
	logger.Info("Connected to database", zap.String("url", logging.SanitizeConnectionString(dbURL)))

	if cfg.MigrateOnStart {
		if err := database.RunMigrations(db.SQL(), logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	var sessionStore repositories.SessionStore
	if redisClient != nil {
		defer redisClient.Close()
		sessionStore = repositories.NewRedisSessionStore(redisClient, cfg.Session.TTL)
		logger.Info("Editing sessions stored in Redis", zap.String("addr", cfg.Redis.Addr()))
	} else {
		sessionStore = repositories.NewMemorySessionStore(cfg.Session.TTL)
		logger.Warn("Redis not configured, editing sessions are kept in memory")
	}

	// Code generation and validation
	temperature := float64(cfg.CodeGen.Temperature)
	generator, err := llm.NewCodeGenerator(&llm.Config{
		Provider:    cfg.CodeGen.Provider,
		Endpoint:    cfg.CodeGen.Endpoint,
		APIKey:      cfg.CodeGen.APIKey(),
		Model:       cfg.CodeGen.Model,
		MaxTokens:   cfg.CodeGen.MaxTokens,
		Temperature: &temperature,
		Referer:     cfg.CodeGen.Referer,
		Timeout:     cfg.CodeGen.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create code generator: %w", err)
	}
	if cfg.CodeGen.APIKey() == "" {
		logger.Warn("No code generation API key configured, generation requests will fail",
			zap.String("provider", cfg.CodeGen.Provider))
	}

	executor := sandbox.NewExecutor(sandbox.Config{
		Timeout:       cfg.Sandbox.Timeout,
		LLMTimeout:    cfg.Sandbox.LLMTimeout,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
	}, logger)

	// Services
	transformationService := services.NewTransformationService(repositories.NewTransformationRepository(), logger)
	logicGenerator := services.NewLogicGenerator(generator, logger)
	tester := services.NewTransformationTester(executor, generator, logger)
	sessionService := services.NewSessionService(
		sessionStore,
		transformationService,
		logicGenerator,
		tester,
		editor.New(nil),
		logger,
	)

	// Auth
	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("create JWKS client: %w", err)
	}
	defer jwksClient.Close()
	if !cfg.Auth.EnableVerification {
		logger.Warn("JWT verification is disabled")
	}

	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)
	ownerMiddleware := handlers.OwnerMiddleware(database.WithOwnerContext(db, logger))

	cookieSettings := auth.DeriveCookieSettings(cfg.BaseURL, cfg.Session.CookieDomain)
	if cfg.Session.CookieSecure {
		cookieSettings.Secure = true
	}
	sessionSecret := cfg.Session.Secret
	if sessionSecret == "" {
		// Only reachable locally; config validation requires a secret elsewhere.
		sessionSecret = uuid.NewString()
		logger.Warn("SESSION_SECRET not set, session cookies will not survive a restart")
	}
	cookies := auth.NewSessionCookies(cfg.Session.CookieName, sessionSecret, cfg.Session.TTL, cookieSettings)

	// Routes
	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger, healthChecks(db, redisClient)).RegisterRoutes(mux)
	handlers.NewTransformationsHandler(transformationService, logger).RegisterRoutes(mux, authMiddleware, ownerMiddleware)
	handlers.NewLogicHandler(logicGenerator, tester, generator.DefaultModel(), logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewSessionsHandler(sessionService, cookies, logger).RegisterRoutes(mux, authMiddleware, ownerMiddleware)

	mcpServer := mcp.NewServer("workflowplus-logic-generator", cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, generator.DefaultModel())
	tools.RegisterTransformationTools(mcpServer.MCP(), &tools.TransformationToolDeps{
		Generator:       logicGenerator,
		Tester:          tester,
		Transformations: transformationService,
		Logger:          logger.Named("mcp-tools"),
	})
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, authMiddleware, ownerMiddleware)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting logic generator",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Stopped")
	return nil
}

// healthChecks reports the dependencies /ping verifies.
func healthChecks(db *database.DB, redisClient *redis.Client) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"postgres": db.Ping,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
