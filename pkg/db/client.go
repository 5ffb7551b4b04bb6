package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/cartreserve-backend/pkg/config"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
)

const applicationName = "cartreserve"

// Client owns the GORM handle shared by repositories, the ledger and the cron jobs.
type Client struct {
	conn *gorm.DB
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens a pgx-backed pool for cfg.DSN. Session timeouts from cfg are sent as runtime
// parameters on every connection, so lock waits fail fast instead of queueing.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	connCfg, err := connConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool := stdlib.OpenDB(*connCfg)
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: pool}), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"db_host":           connCfg.Host,
			"db_name":           connCfg.Database,
			"statement_timeout": connCfg.RuntimeParams["statement_timeout"],
		}), "database connection established")
	}
	return &Client{conn: conn}, nil
}

// NewWithConn wraps an already opened connection (sqlite in tests).
func NewWithConn(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

// connConfig parses URL or keyword DSNs. Values already present in the DSN win over cfg.
func connConfig(cfg config.DBConfig) (*pgx.ConnConfig, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}
	// Simple protocol keeps us compatible with transaction-pooling proxies.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	params := map[string]string{"application_name": applicationName}
	for key, d := range map[string]time.Duration{
		"statement_timeout": cfg.StatementTimeout,
		"lock_timeout":      cfg.LockTimeout,
	} {
		if d > 0 {
			params[key] = strconv.FormatInt(d.Milliseconds(), 10)
		}
	}
	for key, value := range params {
		if _, set := connCfg.RuntimeParams[key]; !set {
			connCfg.RuntimeParams[key] = value
		}
	}
	return connCfg, nil
}

func (c *Client) DB() *gorm.DB { return c.conn }

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a transaction. fn's error is returned as is; failures to begin or
// commit are classified like any other storage error. Panics roll back and re-panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var fnErr error
	err := c.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err == nil || fnErr != nil {
		return err
	}
	return Classify(err, "transaction")
}
