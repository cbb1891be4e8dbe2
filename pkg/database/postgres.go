package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/weightgov/pkg/config"
)

const (
	// pingTimeout bounds each startup ping attempt
	pingTimeout = 5 * time.Second

	// schemaMarkerTable exists once EnsureSchema has run
	schemaMarkerTable = "governance.weight_changes"
)

// DB owns the governance store connection pool
// ⭐ SSOT: DB 연결은 이 패키지에서만 생성
type DB struct {
	Pool *pgxpool.Pool
}

// New opens the pool and waits until the server answers a ping.
// ⭐ SSOT: 유일하게 pgxpool.NewWithConfig()를 호출하는 함수
func New(cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pingWithRetry(context.Background(), pool, cfg.Database.ConnectRetries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// pingWithRetry pings with exponential backoff, retries+1 attempts in total
func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, retries int) error {
	if retries < 0 {
		retries = 0
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 5 * time.Second

	return backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	}, backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx))
}

// WithTx runs fn inside a single transaction.
// fn의 에러 또는 panic 시 롤백, 성공 시 커밋
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// HealthStatus is what `weightgov migrate` reports before applying DDL
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	SchemaReady  bool          `json:"schema_ready"`
	ResponseTime time.Duration `json:"response_time"`
	TotalConns   int32         `json:"total_conns"`
	MaxConns     int32         `json:"max_conns"`
	Error        string        `json:"error,omitempty"`
}

// HealthCheck pings the server and reports whether the governance schema
// has been created. 스키마가 없어도 연결만 되면 healthy
func (db *DB) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{}

	start := time.Now()
	if err := db.Pool.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status, err
	}
	status.ResponseTime = time.Since(start)

	var marker *string
	if err := db.Pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, schemaMarkerTable).Scan(&marker); err != nil {
		status.Error = err.Error()
		return status, fmt.Errorf("check schema: %w", err)
	}
	status.SchemaReady = marker != nil

	stat := db.Pool.Stat()
	status.TotalConns = stat.TotalConns()
	status.MaxConns = stat.MaxConns()
	status.Healthy = true
	return status, nil
}
