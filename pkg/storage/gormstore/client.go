package gormstore

import (
	"context"
	"fmt"

	"marketfeed/config"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Client is a kline store on any gorm dialect. The cache only needs Save and Load; the rest is
// housekeeping for the process that owns the connection.
type Client struct {
	DB *gorm.DB
}

func NewClient(dialector gorm.Dialector) (*Client, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Client{DB: db}, nil
}

// OpenPostgres connects to Postgres, optionally creates the database first, applies the pool
// limits and runs AutoMigrate.
func OpenPostgres(cfg config.PostgresConfig, env string, createDB bool) (*Client, error) {
	if createDB {
		if err := CreateDatabase(cfg, env); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := NewClient(postgres.Open(cfg.DSN(env)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := client.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := client.AutoMigrate(); err != nil {
		client.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

// OpenSQLite opens (or creates) a single-file database at path.
func OpenSQLite(path string) (*Client, error) {
	client, err := NewClient(sqlite.Open(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// one writer at a time avoids SQLITE_BUSY between flushes and queries
	if sqlDB, err := client.DB.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := client.AutoMigrate(); err != nil {
		client.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&KlineRecord{}); err != nil {
		return fmt.Errorf("auto-migrate kline table: %w", err)
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.Health(ctx) == nil
}

// Health pings the underlying connection pool.
func (c *Client) Health(ctx context.Context) error {
	db, err := c.DB.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
