package snapshots

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps documents in the canvas_documents table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects, applies pending migrations and returns a ready store.
func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("snapshots: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("snapshots: ping: %w", err)
	}
	if err := migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("snapshots: migrations fs: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("snapshots: migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("snapshots: migrate: %w", err)
	}
	for _, r := range results {
		logger.Info("snapshot migration applied", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, identity string) (json.RawMessage, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT snapshot FROM canvas_documents WHERE identity = $1`,
		strings.TrimSpace(identity),
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshots: load: %w", err)
	}
	return json.RawMessage(doc), nil
}

func (p *PostgresStore) Save(ctx context.Context, identity string, snapshot json.RawMessage) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("identity is required")
	}
	if !json.Valid(snapshot) {
		return errors.New("snapshot is not valid json")
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO canvas_documents (identity, snapshot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (identity) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()`,
		identity, []byte(snapshot),
	)
	if err != nil {
		return fmt.Errorf("snapshots: save: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}
