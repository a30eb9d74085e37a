// Package warehouse verifies the SQL endpoint of a provisioned analytics workspace.
// Verification is optional and read-only: it connects with the SQL admin credentials,
// pings the server and reads its version.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb" // MS SQL Server driver
	"github.com/straye-as/sports-datalake/internal/config"
	"go.uber.org/zap"
)

const (
	defaultPort           = "1433"
	defaultDatabase       = "master"
	defaultConnectTimeout = 30 * time.Second
	defaultQueryTimeout   = 30 * time.Second
)

// ErrNotInitialized is returned by queries on a disabled client
var ErrNotInitialized = errors.New("warehouse client not initialized")

// Client holds a connection to the workspace SQL endpoint
type Client struct {
	db           *sql.DB
	endpoint     string
	logger       *zap.Logger
	queryTimeout time.Duration
}

// HealthStatus represents the health check result for the SQL endpoint
type HealthStatus struct {
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
	Open    int           `json:"open_connections"`
	InUse   int           `json:"in_use"`
	Idle    int           `json:"idle"`
}

// NewClient connects to the SQL endpoint returned by provisioning.
// Returns nil if verification is disabled or the endpoint or credentials are missing.
// A single connection attempt is made; a failed ping is returned as an error.
func NewClient(endpoint, login, password string, cfg *config.WarehouseConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil || !cfg.Verify {
		logger.Info("SQL endpoint verification disabled")
		return nil, nil
	}

	if endpoint == "" || login == "" || password == "" {
		logger.Warn("SQL endpoint verification enabled but endpoint or credentials missing, skipping",
			zap.Bool("endpoint_present", endpoint != ""),
			zap.Bool("login_present", login != ""),
			zap.Bool("password_present", password != ""),
		)
		return nil, nil
	}

	connectTimeout := cfg.ConnectTimeoutDuration()
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	queryTimeout := cfg.QueryTimeoutDuration()
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	connStr := BuildConnectionString(endpoint, login, password, cfg.Database, connectTimeout)

	logger.Info("Connecting to SQL endpoint",
		zap.String("endpoint", endpoint),
		zap.String("database", databaseOrDefault(cfg.Database)),
	)

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQL endpoint connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach SQL endpoint %s: %w", endpoint, err)
	}

	logger.Info("SQL endpoint reachable",
		zap.String("endpoint", endpoint),
		zap.Duration("latency", time.Since(start)),
	)

	return &Client{
		db:           db,
		endpoint:     endpoint,
		logger:       logger,
		queryTimeout: queryTimeout,
	}, nil
}

// BuildConnectionString constructs a sqlserver:// connection URL.
// The endpoint is host or host:port; port defaults to 1433 and database to master.
func BuildConnectionString(endpoint, login, password, database string, connectTimeout time.Duration) string {
	host, port := endpoint, defaultPort
	if i := strings.LastIndex(endpoint, ":"); i >= 0 {
		host, port = endpoint[:i], endpoint[i+1:]
	}

	query := url.Values{}
	query.Add("database", databaseOrDefault(database))
	query.Add("encrypt", "true")
	query.Add("TrustServerCertificate", "false")
	query.Add("connection timeout", fmt.Sprintf("%d", int(connectTimeout.Seconds())))

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(login, password),
		Host:     fmt.Sprintf("%s:%s", host, port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func databaseOrDefault(database string) string {
	if database == "" {
		return defaultDatabase
	}
	return database
}

// HealthCheck pings the endpoint and reports latency and pool statistics
func (c *Client) HealthCheck(ctx context.Context) *HealthStatus {
	if c == nil || c.db == nil {
		return &HealthStatus{Status: "disabled"}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := c.db.PingContext(ctx)
	latency := time.Since(start)

	stats := c.db.Stats()
	status := &HealthStatus{
		Latency: latency,
		Open:    stats.OpenConnections,
		InUse:   stats.InUse,
		Idle:    stats.Idle,
	}

	if err != nil {
		c.logger.Warn("SQL endpoint health check failed",
			zap.Error(err),
			zap.Duration("latency", latency),
		)
		status.Status = "unhealthy"
		status.Error = err.Error()
	} else {
		status.Status = "healthy"
	}

	return status
}

// ServerVersion returns the result of SELECT @@VERSION
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	if c == nil || c.db == nil {
		return "", ErrNotInitialized
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT @@VERSION").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query server version: %w", err)
	}
	return version, nil
}

// withTimeout applies the query timeout when ctx has no deadline
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.queryTimeout)
}

// Close closes the connection pool
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close SQL endpoint connection", zap.Error(err))
		return fmt.Errorf("failed to close SQL endpoint connection: %w", err)
	}
	return nil
}

// IsEnabled returns true if the client holds an open connection
func (c *Client) IsEnabled() bool {
	return c != nil && c.db != nil
}
