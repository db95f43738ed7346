// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/allisson/capsec/internal/audit"
	auditRepository "github.com/allisson/capsec/internal/audit/repository"
	capService "github.com/allisson/capsec/internal/capability/service"
	"github.com/allisson/capsec/internal/config"
	"github.com/allisson/capsec/internal/database"
	"github.com/allisson/capsec/internal/enforcement"
	"github.com/allisson/capsec/internal/http"
	"github.com/allisson/capsec/internal/kernel"
	"github.com/allisson/capsec/internal/metrics"
	"github.com/allisson/capsec/internal/security"
	securityHTTP "github.com/allisson/capsec/internal/security/http"
	"github.com/allisson/capsec/internal/token"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	metricsProvider *metrics.Provider

	// Capability core
	signer          capService.Signer
	kernel          *kernel.Kernel
	revocationCache *token.RevocationCache
	tokenEnforcer   *security.TokenEnforcer

	// Audit
	auditRecorder *audit.Recorder

	// Security facade
	securityProvider security.Provider

	// Enforcement
	enforcementAdapter *enforcement.Adapter

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                     sync.Mutex
	loggerInit             sync.Once
	dbInit                 sync.Once
	metricsProviderInit    sync.Once
	signerInit             sync.Once
	kernelInit             sync.Once
	revocationCacheInit    sync.Once
	auditRecorderInit      sync.Once
	securityProviderInit   sync.Once
	enforcementAdapterInit sync.Once
	httpServerInit         sync.Once
	metricsServerInit      sync.Once
	initErrors             map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// MetricsProvider returns the OpenTelemetry metrics provider, or nil when
// metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// Signer returns the capability signer, loading and unwrapping the signing
// root key on first access.
func (c *Container) Signer() (capService.Signer, error) {
	var err error
	c.signerInit.Do(func() {
		c.signer, err = c.initSigner()
		if err != nil {
			c.initErrors["signer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["signer"]; exists {
		return nil, storedErr
	}
	return c.signer, nil
}

// Kernel returns the centralized capability authority and starts its actor
// goroutine on first access.
func (c *Container) Kernel() (*kernel.Kernel, error) {
	var err error
	c.kernelInit.Do(func() {
		c.kernel, err = c.initKernel()
		if err != nil {
			c.initErrors["kernel"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["kernel"]; exists {
		return nil, storedErr
	}
	return c.kernel, nil
}

// RevocationCache returns the token revocation cache and starts its janitor
// on first access.
func (c *Container) RevocationCache() *token.RevocationCache {
	c.revocationCacheInit.Do(func() {
		c.revocationCache = token.NewRevocationCache(c.config.RevocationCacheSweepInterval)
	})
	return c.revocationCache
}

// AuditRecorder returns the buffered audit recorder and starts its flusher
// on first access.
func (c *Container) AuditRecorder() (*audit.Recorder, error) {
	var err error
	c.auditRecorderInit.Do(func() {
		c.auditRecorder, err = c.initAuditRecorder()
		if err != nil {
			c.initErrors["auditRecorder"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["auditRecorder"]; exists {
		return nil, storedErr
	}
	return c.auditRecorder, nil
}

// SecurityProvider returns the mode-selecting security facade, decorated with
// metrics when metrics are enabled.
func (c *Container) SecurityProvider() (security.Provider, error) {
	var err error
	c.securityProviderInit.Do(func() {
		c.securityProvider, err = c.initSecurityProvider()
		if err != nil {
			c.initErrors["securityProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["securityProvider"]; exists {
		return nil, storedErr
	}
	return c.securityProvider, nil
}

// EnforcementAdapter returns the MCP boundary enforcement adapter.
func (c *Container) EnforcementAdapter() (*enforcement.Adapter, error) {
	var err error
	c.enforcementAdapterInit.Do(func() {
		c.enforcementAdapter, err = c.initEnforcementAdapter()
		if err != nil {
			c.initErrors["enforcementAdapter"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["enforcementAdapter"]; exists {
		return nil, storedErr
	}
	return c.enforcementAdapter, nil
}

// HTTPServer returns the HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the Prometheus metrics server, or nil when metrics
// are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		var provider *metrics.Provider
		provider, err = c.MetricsProvider()
		if err != nil {
			c.initErrors["metricsServer"] = err
			return
		}
		var recorder *audit.Recorder
		recorder, err = c.AuditRecorder()
		if err != nil {
			c.initErrors["metricsServer"] = err
			return
		}
		c.metricsServer = http.NewMetricsServer(
			c.config.ServerHost,
			c.config.MetricsPort,
			c.Logger(),
			provider,
			recorder,
		)
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	// Shutdown HTTP server if initialized
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	// Shutdown metrics server if initialized
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	// Drain the audit buffer before the sinks lose their database
	if c.auditRecorder != nil {
		c.auditRecorder.Close()
	}

	// Stop the kernel actor if initialized
	if c.kernel != nil {
		c.kernel.Close()
	}

	// Stop the token issuance index janitor if initialized
	if c.tokenEnforcer != nil {
		c.tokenEnforcer.Close()
	}

	// Stop the revocation cache janitor if initialized
	if c.revocationCache != nil {
		c.revocationCache.Close()
	}

	// Close database connection if initialized
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	// Shutdown metrics provider if initialized
	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	// Return combined errors if any occurred
	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initSigner loads the signing root key, unwrapping with KMS when configured,
// and builds the HMAC signer.
func (c *Container) initSigner() (capService.Signer, error) {
	key, err := capService.LoadSigningKey(
		context.Background(),
		capService.NewKMSService(),
		c.config.SigningKey,
		c.config.KMSKeyURI,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	signer, err := capService.NewHMACSigner(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return signer, nil
}

// initKernel creates the kernel with its factory and validator.
func (c *Container) initKernel() (*kernel.Kernel, error) {
	signer, err := c.Signer()
	if err != nil {
		return nil, fmt.Errorf("failed to get signer for kernel: %w", err)
	}

	return kernel.New(
		capService.NewFactory(signer),
		capService.NewValidator(signer),
		kernel.Config{
			DelegationDepthCap: c.config.DelegationDepthCap,
			RetentionWindow:    c.config.KernelRetentionWindow,
			SweepInterval:      c.config.KernelSweepInterval,
		},
	), nil
}

// initAuditRecorder creates the audit recorder with the configured sink.
func (c *Container) initAuditRecorder() (*audit.Recorder, error) {
	var sink audit.Sink

	switch c.config.AuditSink {
	case "slog":
		sink = audit.NewSlogSink(c.Logger())
	case "postgres":
		db, err := c.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for audit sink: %w", err)
		}
		sink = auditRepository.NewPostgreSQLSink(db)
	case "mysql":
		db, err := c.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for audit sink: %w", err)
		}
		sink = auditRepository.NewMySQLSink(db)
	default:
		return nil, fmt.Errorf("unsupported audit sink: %s", c.config.AuditSink)
	}

	return audit.NewRecorder(sink, c.Logger(), audit.Config{
		BufferSize:    c.config.AuditBufferSize,
		BatchSize:     c.config.AuditBatchSize,
		FlushInterval: c.config.AuditFlushInterval,
		FlushTimeout:  c.config.AuditFlushTimeout,
	}), nil
}

// initSecurityProvider assembles both enforcement strategies and the facade,
// then decorates it with metrics when enabled.
func (c *Container) initSecurityProvider() (security.Provider, error) {
	logger := c.Logger()

	signer, err := c.Signer()
	if err != nil {
		return nil, fmt.Errorf("failed to get signer for security provider: %w", err)
	}

	k, err := c.Kernel()
	if err != nil {
		return nil, fmt.Errorf("failed to get kernel for security provider: %w", err)
	}

	recorder, err := c.AuditRecorder()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit recorder for security provider: %w", err)
	}

	revocationCache := c.RevocationCache()
	issuer, err := token.NewIssuer(signer, c.config.DelegationDepthCap)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	validator := token.NewValidator(signer, revocationCache)

	c.tokenEnforcer = security.NewTokenEnforcer(
		issuer,
		validator,
		revocationCache,
		c.config.RevocationCacheSweepInterval,
	)
	facade := security.NewFacade(
		security.NewKernelEnforcer(k),
		c.tokenEnforcer,
		recorder,
		logger,
	)
	if c.config.TokenModeEnabled {
		facade.SetTokenMode(true)
	}

	if !c.config.MetricsEnabled {
		return facade, nil
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for security provider: %w", err)
	}
	securityMetrics, err := metrics.NewSecurityMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create security metrics: %w", err)
	}
	return security.NewProviderWithMetrics(facade, securityMetrics), nil
}

// initEnforcementAdapter creates the MCP boundary adapter over the security provider.
func (c *Container) initEnforcementAdapter() (*enforcement.Adapter, error) {
	provider, err := c.SecurityProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get security provider for enforcement adapter: %w", err)
	}
	return enforcement.NewAdapter(provider, c.Logger()), nil
}

// initHTTPServer creates the HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	provider, err := c.SecurityProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get security provider for http server: %w", err)
	}

	adapter, err := c.EnforcementAdapter()
	if err != nil {
		return nil, fmt.Errorf("failed to get enforcement adapter for http server: %w", err)
	}

	routerCfg := http.RouterConfig{
		CapabilityHandler:  securityHTTP.NewCapabilityHandler(provider, logger),
		EnforcementHandler: securityHTTP.NewEnforcementHandler(adapter, logger),

		RateLimitEnabled:        c.config.RateLimitEnabled,
		RateLimitRequestsPerSec: c.config.RateLimitRequestsPerSec,
		RateLimitBurst:          c.config.RateLimitBurst,

		CORSEnabled:      c.config.CORSEnabled,
		CORSAllowOrigins: c.config.CORSAllowOrigins,
	}

	if c.config.MetricsEnabled {
		metricsProvider, err := c.MetricsProvider()
		if err != nil {
			return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
		}
		routerCfg.MetricsEnabled = true
		routerCfg.MeterProvider = metricsProvider.MeterProvider()
		routerCfg.MetricsNamespace = c.config.MetricsNamespace
	}

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, logger)
	server.SetupRouter(routerCfg)

	return server, nil
}
