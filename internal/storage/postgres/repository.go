package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"coinafrique-scraper/internal/model"
	"coinafrique-scraper/internal/observability"
	"coinafrique-scraper/internal/storage"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS raw_ads (
		category   TEXT NOT NULL,
		name       TEXT,
		price_raw  TEXT,
		address    TEXT,
		image_link TEXT,
		scraped_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cleaned_ads (
		category   TEXT NOT NULL,
		name       TEXT,
		price      BIGINT,
		address    TEXT,
		image_link TEXT,
		scraped_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		id           BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL,
		email        TEXT NOT NULL,
		rating       INT NOT NULL,
		pros         TEXT NOT NULL,
		cons         TEXT NOT NULL,
		comment      TEXT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_cleaned_ads_scraped_at ON cleaned_ads (scraped_at DESC)`,
}

// Pool is the subset of *pgxpool.Pool the repository uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type Repository struct {
	pool    Pool
	opts    storage.Options
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Open parses dsn, caps the pool at maxConns and pings before returning.
func Open(ctx context.Context, dsn string, maxConns int, opts storage.Options, logger *observability.Logger, metrics *observability.Metrics) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(pool, opts, logger, metrics), nil
}

func New(pool Pool, opts storage.Options, logger *observability.Logger, metrics *observability.Metrics) *Repository {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Repository{pool: pool, opts: opts, logger: logger, metrics: metrics}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.CommandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.CommandTimeout)
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return storage.Wrap("ensure schema", "", err)
		}
	}
	return nil
}

func (r *Repository) AppendRaw(ctx context.Context, ads []model.RawAd) error {
	return r.inTx(ctx, "append", model.CollectionRaw, func(ctx context.Context, tx pgx.Tx) error {
		return r.copyRows(ctx, tx, model.CollectionRaw, storage.RawColumns, storage.RawRows(ads))
	})
}

func (r *Repository) AppendCleaned(ctx context.Context, ads []model.CleanedAd) error {
	return r.inTx(ctx, "append", model.CollectionCleaned, func(ctx context.Context, tx pgx.Tx) error {
		return r.copyRows(ctx, tx, model.CollectionCleaned, storage.CleanedColumns, storage.CleanedRows(ads))
	})
}

func (r *Repository) AppendBatch(ctx context.Context, raw []model.RawAd, cleaned []model.CleanedAd) error {
	return r.inTx(ctx, "append batch", "", func(ctx context.Context, tx pgx.Tx) error {
		if err := r.copyRows(ctx, tx, model.CollectionRaw, storage.RawColumns, storage.RawRows(raw)); err != nil {
			return err
		}
		return r.copyRows(ctx, tx, model.CollectionCleaned, storage.CleanedColumns, storage.CleanedRows(cleaned))
	})
}

func (r *Repository) AppendEvaluation(ctx context.Context, ev *model.Evaluation) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if ev.SubmittedAt.IsZero() {
		ev.SubmittedAt = time.Now().UTC()
	}

	query := `INSERT INTO evaluations (name, email, rating, pros, cons, comment, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := r.pool.QueryRow(ctx, query, storage.EvaluationRow(ev)...).Scan(&id)
	r.metrics.IncStorage(string(model.CollectionEvaluations), "append", err)
	if err != nil {
		return 0, storage.Wrap("append", model.CollectionEvaluations, err)
	}
	ev.ID = id
	return id, nil
}

func (r *Repository) ReadRaw(ctx context.Context, limit int) ([]model.RawAd, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT category, name, price_raw, address, image_link, scraped_at
		FROM raw_ads ORDER BY scraped_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, r.opts.Limit(limit))
	if err != nil {
		r.metrics.IncStorage(string(model.CollectionRaw), "read", err)
		return nil, storage.Wrap("read", model.CollectionRaw, err)
	}
	defer rows.Close()

	var out []model.RawAd
	for rows.Next() {
		var ad model.RawAd
		var name, price, address, image sql.NullString
		if err := rows.Scan(&ad.Category, &name, &price, &address, &image, &ad.ScrapedAt); err != nil {
			return nil, storage.Wrap("read", model.CollectionRaw, err)
		}
		ad.Name, ad.PriceRaw = storage.StringPtr(name), storage.StringPtr(price)
		ad.Address, ad.ImageLink = storage.StringPtr(address), storage.StringPtr(image)
		out = append(out, ad)
	}
	err = rows.Err()
	r.metrics.IncStorage(string(model.CollectionRaw), "read", err)
	if err != nil {
		return nil, storage.Wrap("read", model.CollectionRaw, err)
	}
	return out, nil
}

func (r *Repository) ReadCleaned(ctx context.Context, filter storage.Filter) ([]model.CleanedAd, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	where, args := storage.CleanedWhere(filter, storage.DollarPlaceholder, 1)
	query := `SELECT category, name, price, address, image_link, scraped_at
		FROM cleaned_ads` + where + ` ORDER BY scraped_at DESC`
	if !filter.Unlimited {
		args = append(args, r.opts.Limit(filter.Limit))
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.metrics.IncStorage(string(model.CollectionCleaned), "read", err)
		return nil, storage.Wrap("read", model.CollectionCleaned, err)
	}
	defer rows.Close()

	var out []model.CleanedAd
	for rows.Next() {
		var ad model.CleanedAd
		var name, address, image sql.NullString
		var price sql.NullInt64
		if err := rows.Scan(&ad.Category, &name, &price, &address, &image, &ad.ScrapedAt); err != nil {
			return nil, storage.Wrap("read", model.CollectionCleaned, err)
		}
		ad.Name, ad.Price = storage.StringPtr(name), storage.Int64Ptr(price)
		ad.Address, ad.ImageLink = storage.StringPtr(address), storage.StringPtr(image)
		out = append(out, ad)
	}
	err = rows.Err()
	r.metrics.IncStorage(string(model.CollectionCleaned), "read", err)
	if err != nil {
		return nil, storage.Wrap("read", model.CollectionCleaned, err)
	}
	return out, nil
}

func (r *Repository) ReadEvaluations(ctx context.Context, limit int) ([]model.Evaluation, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT id, name, email, rating, pros, cons, comment, submitted_at
		FROM evaluations ORDER BY submitted_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, r.opts.Limit(limit))
	if err != nil {
		r.metrics.IncStorage(string(model.CollectionEvaluations), "read", err)
		return nil, storage.Wrap("read", model.CollectionEvaluations, err)
	}
	defer rows.Close()

	var out []model.Evaluation
	for rows.Next() {
		var ev model.Evaluation
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Email, &ev.Rating, &ev.Pros, &ev.Cons, &ev.Comment, &ev.SubmittedAt); err != nil {
			return nil, storage.Wrap("read", model.CollectionEvaluations, err)
		}
		out = append(out, ev)
	}
	err = rows.Err()
	r.metrics.IncStorage(string(model.CollectionEvaluations), "read", err)
	if err != nil {
		return nil, storage.Wrap("read", model.CollectionEvaluations, err)
	}
	return out, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return storage.Wrap("ping", "", r.pool.Ping(ctx))
}

func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *Repository) inTx(ctx context.Context, op string, collection model.Collection, fn func(context.Context, pgx.Tx) error) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.Wrap(op, collection, err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Error("Failed to roll back", "op", op, "error", rbErr.Error())
		}
		var se *storage.Error
		if errors.As(err, &se) {
			return err
		}
		return storage.Wrap(op, collection, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.Wrap(op, collection, err)
	}
	return nil
}

// copyRows streams rows through COPY FROM STDIN.
func (r *Repository) copyRows(ctx context.Context, tx pgx.Tx, collection model.Collection, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{string(collection)}, columns, pgx.CopyFromRows(rows))
	r.metrics.IncStorage(string(collection), "append", err)
	if err != nil {
		return storage.Wrap("append", collection, err)
	}
	if n != int64(len(rows)) {
		return storage.Wrap("append", collection, fmt.Errorf("copied %d of %d rows", n, len(rows)))
	}

	r.logger.Debug("Rows copied", "collection", string(collection), "rows", n)
	return nil
}
