package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/johnwmail/npaste/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	insertPasteSQL  = `INSERT INTO pastes (id, content, created_at, expires_at, remaining_views) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`
	selectPasteSQL  = `SELECT id, content, created_at, expires_at, remaining_views FROM pastes WHERE id = $1`
	deletePasteSQL  = `DELETE FROM pastes WHERE id = $1`
	deleteIfSQL     = `DELETE FROM pastes WHERE id = $1 AND remaining_views = $2`
	decrementIfSQL  = `UPDATE pastes SET remaining_views = $3 WHERE id = $1 AND remaining_views = $2`
	deleteExpireSQL = `DELETE FROM pastes WHERE expires_at IS NOT NULL AND expires_at < $1`
)

// PostgresStore implements PasteStore on PostgreSQL. Counter updates are
// conditional on the previously read value, so concurrent readers of the
// same paste cannot both spend the same view.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenPostgresStore connects, runs pending migrations and returns the store.
func OpenPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Using PostgreSQL storage")
	return NewPostgresStore(db, logger), nil
}

// NewPostgresStore wraps an already migrated database handle.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Create inserts the paste; an existing id leaves the table untouched.
func (p *PostgresStore) Create(ctx context.Context, paste *models.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := p.db.ExecContext(ctx, insertPasteSQL,
		paste.ID,
		paste.Content,
		paste.CreatedAt,
		nullInt64(paste.ExpiresAt),
		nullInt(paste.RemainingViews),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIDExists
	}
	return nil
}

// FetchAndConsume reads a paste and applies view/expiry side effects.
func (p *PostgresStore) FetchAndConsume(ctx context.Context, id string, nowMs int64) (*models.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return consume(ctx, p, id, nowMs)
}

// Delete removes a paste.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return p.remove(ctx, id)
}

// DeleteExpired removes pastes that expired before beforeMs.
func (p *PostgresStore) DeleteExpired(ctx context.Context, beforeMs int64) (int, error) {
	res, err := p.db.ExecContext(ctx, deleteExpireSQL, beforeMs)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Ping checks the database connection.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database handle.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) load(ctx context.Context, id string) (*models.Paste, error) {
	var (
		paste     models.Paste
		expiresAt sql.NullInt64
		views     sql.NullInt64
	)
	err := p.db.QueryRowContext(ctx, selectPasteSQL, id).Scan(
		&paste.ID,
		&paste.Content,
		&paste.CreatedAt,
		&expiresAt,
		&views,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		paste.ExpiresAt = models.Int64(expiresAt.Int64)
	}
	if views.Valid {
		paste.RemainingViews = models.Int(int(views.Int64))
	}
	return &paste, nil
}

func (p *PostgresStore) remove(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, deletePasteSQL, id)
	return err
}

func (p *PostgresStore) removeIf(ctx context.Context, id string, views int) error {
	return p.execSwap(ctx, deleteIfSQL, id, views)
}

func (p *PostgresStore) decrementIf(ctx context.Context, id string, views int) error {
	return p.execSwap(ctx, decrementIfSQL, id, views, views-1)
}

func (p *PostgresStore) execSwap(ctx context.Context, query string, args ...interface{}) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errConflict
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
