package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"coinafrique-scraper/internal/model"
	"coinafrique-scraper/internal/observability"
	"coinafrique-scraper/internal/storage"
)

var schema = []string{
	`IF OBJECT_ID(N'dbo.raw_ads', N'U') IS NULL
	CREATE TABLE dbo.raw_ads (
		[category] NVARCHAR(100) NOT NULL,
		[name] NVARCHAR(MAX) NULL,
		[price_raw] NVARCHAR(200) NULL,
		[address] NVARCHAR(400) NULL,
		[image_link] NVARCHAR(2000) NULL,
		[scraped_at] DATETIME2 NOT NULL
	)`,
	`IF OBJECT_ID(N'dbo.cleaned_ads', N'U') IS NULL
	CREATE TABLE dbo.cleaned_ads (
		[category] NVARCHAR(100) NOT NULL,
		[name] NVARCHAR(MAX) NULL,
		[price] BIGINT NULL,
		[address] NVARCHAR(400) NULL,
		[image_link] NVARCHAR(2000) NULL,
		[scraped_at] DATETIME2 NOT NULL
	)`,
	`IF OBJECT_ID(N'dbo.evaluations', N'U') IS NULL
	CREATE TABLE dbo.evaluations (
		[id] BIGINT IDENTITY(1,1) PRIMARY KEY,
		[name] NVARCHAR(200) NOT NULL,
		[email] NVARCHAR(320) NOT NULL,
		[rating] INT NOT NULL,
		[pros] NVARCHAR(MAX) NOT NULL,
		[cons] NVARCHAR(MAX) NOT NULL,
		[comment] NVARCHAR(MAX) NOT NULL,
		[submitted_at] DATETIME2 NOT NULL
	)`,
	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'ix_cleaned_ads_scraped_at')
	CREATE INDEX ix_cleaned_ads_scraped_at ON dbo.cleaned_ads ([scraped_at] DESC)`,
}

type Repository struct {
	db      *sql.DB
	opts    storage.Options
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Open connects with the sqlserver driver and pings before returning.
func Open(dsn string, opts storage.Options, logger *observability.Logger, metrics *observability.Metrics) (*Repository, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, opts, logger, metrics), nil
}

func New(db *sql.DB, opts storage.Options, logger *observability.Logger, metrics *observability.Metrics) *Repository {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Repository{db: db, opts: opts, logger: logger, metrics: metrics}
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
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return storage.Wrap("ensure schema", "", err)
		}
	}
	return nil
}

func (r *Repository) AppendRaw(ctx context.Context, ads []model.RawAd) error {
	return r.inTx(ctx, "append", model.CollectionRaw, func(ctx context.Context, tx *sql.Tx) error {
		return r.insertRows(ctx, tx, model.CollectionRaw, storage.RawColumns, storage.RawRows(ads))
	})
}

func (r *Repository) AppendCleaned(ctx context.Context, ads []model.CleanedAd) error {
	return r.inTx(ctx, "append", model.CollectionCleaned, func(ctx context.Context, tx *sql.Tx) error {
		return r.insertRows(ctx, tx, model.CollectionCleaned, storage.CleanedColumns, storage.CleanedRows(ads))
	})
}

func (r *Repository) AppendBatch(ctx context.Context, raw []model.RawAd, cleaned []model.CleanedAd) error {
	return r.inTx(ctx, "append batch", "", func(ctx context.Context, tx *sql.Tx) error {
		if err := r.insertRows(ctx, tx, model.CollectionRaw, storage.RawColumns, storage.RawRows(raw)); err != nil {
			return err
		}
		return r.insertRows(ctx, tx, model.CollectionCleaned, storage.CleanedColumns, storage.CleanedRows(cleaned))
	})
}

func (r *Repository) AppendEvaluation(ctx context.Context, ev *model.Evaluation) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if ev.SubmittedAt.IsZero() {
		ev.SubmittedAt = time.Now().UTC()
	}

	query := `INSERT INTO dbo.evaluations ([name], [email], [rating], [pros], [cons], [comment], [submitted_at])
		OUTPUT INSERTED.id
		VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`

	var id int64
	err := r.db.QueryRowContext(ctx, query, storage.EvaluationRow(ev)...).Scan(&id)
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

	query := `SELECT TOP (@p1) [category], [name], [price_raw], [address], [image_link], [scraped_at]
		FROM dbo.raw_ads ORDER BY [scraped_at] DESC`

	rows, err := r.db.QueryContext(ctx, query, r.opts.Limit(limit))
	if err != nil {
		r.metrics.IncStorage(string(model.CollectionRaw), "read", err)
		return nil, storage.Wrap("read", model.CollectionRaw, err)
	}
	defer r.closeRows(rows)

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

	var query string
	var args []any
	if filter.Unlimited {
		var where string
		where, args = storage.CleanedWhere(filter, storage.AtPPlaceholder, 1)
		query = `SELECT [category], [name], [price], [address], [image_link], [scraped_at]
		FROM dbo.cleaned_ads` + where + ` ORDER BY [scraped_at] DESC`
	} else {
		where, whereArgs := storage.CleanedWhere(filter, storage.AtPPlaceholder, 2)
		query = `SELECT TOP (@p1) [category], [name], [price], [address], [image_link], [scraped_at]
		FROM dbo.cleaned_ads` + where + ` ORDER BY [scraped_at] DESC`
		args = append([]any{r.opts.Limit(filter.Limit)}, whereArgs...)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.metrics.IncStorage(string(model.CollectionCleaned), "read", err)
		return nil, storage.Wrap("read", model.CollectionCleaned, err)
	}
	defer r.closeRows(rows)

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

	query := `SELECT TOP (@p1) [id], [name], [email], [rating], [pros], [cons], [comment], [submitted_at]
		FROM dbo.evaluations ORDER BY [submitted_at] DESC`

	rows, err := r.db.QueryContext(ctx, query, r.opts.Limit(limit))
	if err != nil {
		r.metrics.IncStorage(string(model.CollectionEvaluations), "read", err)
		return nil, storage.Wrap("read", model.CollectionEvaluations, err)
	}
	defer r.closeRows(rows)

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
	return storage.Wrap("ping", "", r.db.PingContext(ctx))
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// inTx runs fn in one transaction and rolls back on any error.
func (r *Repository) inTx(ctx context.Context, op string, collection model.Collection, fn func(context.Context, *sql.Tx) error) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(op, collection, err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to roll back", "op", op, "error", rbErr.Error())
		}
		var se *storage.Error
		if errors.As(err, &se) {
			return err
		}
		return storage.Wrap(op, collection, err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Wrap(op, collection, err)
	}
	return nil
}

// insertRows writes rows with multi-row INSERTs of at most BatchSize rows.
func (r *Repository) insertRows(ctx context.Context, tx *sql.Tx, collection model.Collection, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	for _, window := range storage.Chunks(len(rows), r.opts.BatchSize) {
		chunk := rows[window[0]:window[1]]

		var sb strings.Builder
		sb.WriteString("INSERT INTO dbo." + string(collection) + " ([" + strings.Join(columns, "], [") + "]) VALUES ")

		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(")
			for j := range row {
				if j > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(storage.AtPPlaceholder(len(args) + j + 1))
			}
			sb.WriteString(")")
			args = append(args, row...)
		}

		_, err := tx.ExecContext(ctx, sb.String(), args...)
		r.metrics.IncStorage(string(collection), "append", err)
		if err != nil {
			return storage.Wrap("append", collection, err)
		}
	}

	r.logger.Debug("Rows appended", "collection", string(collection), "rows", len(rows))
	return nil
}

func (r *Repository) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.Error("Failed to close rows", "error", err.Error())
	}
}
