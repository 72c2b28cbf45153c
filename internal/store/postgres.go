package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresConfig holds connection parameters for the record store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Postgres is a pgx-backed implementation of the engine's generic record
// store. Records are opaque to the engine, so they live in one table with a
// JSONB payload keyed by (model, id).
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	var dsn string
	if cfg.Password != "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	} else {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Database, cfg.SSLMode,
		)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS records (
			model      TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (model, id)
		)
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure records table: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Create inserts one record, generating an ID when the payload carries none.
func (p *Postgres) Create(ctx context.Context, model string, data map[string]any) (map[string]any, error) {
	if model == "" {
		return nil, fmt.Errorf("record requires a model")
	}

	record := make(map[string]any, len(data)+1)
	for k, v := range data {
		record[k] = v
	}
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.New().String()
		record["id"] = id
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	query := `
		INSERT INTO records (model, id, data)
		VALUES ($1, $2, $3)
	`
	if _, err := p.pool.Exec(ctx, query, model, id, payload); err != nil {
		p.logger.Error("failed to create record",
			zap.Error(err),
			zap.String("model", model),
			zap.String("record_id", id),
		)
		return nil, fmt.Errorf("insert %s record: %w", model, err)
	}

	p.logger.Info("record created",
		zap.String("model", model),
		zap.String("record_id", id),
	)
	return record, nil
}

// Update merges data into an existing record's JSONB payload.
func (p *Postgres) Update(ctx context.Context, model, id string, data map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal record update: %w", err)
	}

	query := `
		UPDATE records
		SET data = data || $3::jsonb, updated_at = now()
		WHERE model = $1 AND id = $2
		RETURNING data
	`

	var merged []byte
	if err := p.pool.QueryRow(ctx, query, model, id, payload).Scan(&merged); err != nil {
		p.logger.Error("failed to update record",
			zap.Error(err),
			zap.String("model", model),
			zap.String("record_id", id),
		)
		return nil, fmt.Errorf("update %s record %s: %w", model, id, err)
	}

	var record map[string]any
	if err := json.Unmarshal(merged, &record); err != nil {
		return nil, fmt.Errorf("unmarshal %s record %s: %w", model, id, err)
	}

	p.logger.Info("record updated",
		zap.String("model", model),
		zap.String("record_id", id),
	)
	return record, nil
}
