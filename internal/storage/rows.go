package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"coinafrique-scraper/internal/model"
)

// Options are shared by the SQL implementations.
type Options struct {
	CommandTimeout time.Duration
	BatchSize      int
	ReadLimit      int
}

func (o Options) Limit(n int) int {
	if n <= 0 {
		return o.ReadLimit
	}
	return n
}

var (
	RawColumns        = []string{"category", "name", "price_raw", "address", "image_link", "scraped_at"}
	CleanedColumns    = []string{"category", "name", "price", "address", "image_link", "scraped_at"}
	EvaluationColumns = []string{"name", "email", "rating", "pros", "cons", "comment", "submitted_at"}
)

func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func NullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func Int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}

// RawRows lays ads out in RawColumns order.
func RawRows(ads []model.RawAd) [][]any {
	rows := make([][]any, 0, len(ads))
	for _, ad := range ads {
		rows = append(rows, []any{
			ad.Category,
			NullString(ad.Name),
			NullString(ad.PriceRaw),
			NullString(ad.Address),
			NullString(ad.ImageLink),
			ad.ScrapedAt.UTC(),
		})
	}
	return rows
}

// CleanedRows lays ads out in CleanedColumns order.
func CleanedRows(ads []model.CleanedAd) [][]any {
	rows := make([][]any, 0, len(ads))
	for _, ad := range ads {
		rows = append(rows, []any{
			ad.Category,
			NullString(ad.Name),
			NullInt64(ad.Price),
			NullString(ad.Address),
			NullString(ad.ImageLink),
			ad.ScrapedAt.UTC(),
		})
	}
	return rows
}

func EvaluationRow(ev *model.Evaluation) []any {
	return []any{ev.Name, ev.Email, ev.Rating, ev.Pros, ev.Cons, ev.Comment, ev.SubmittedAt.UTC()}
}

// Placeholder renders the n-th (1-based) bind parameter of a dialect.
type Placeholder func(n int) string

func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func AtPPlaceholder(n int) string { return fmt.Sprintf("@p%d", n) }

// CleanedWhere builds the WHERE clause for f. Parameter numbering starts at
// first; the returned args line up with the placeholders used.
func CleanedWhere(f Filter, ph Placeholder, first int) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return ph(first + len(args) - 1)
	}

	if len(f.Categories) > 0 {
		marks := make([]string, 0, len(f.Categories))
		for _, c := range f.Categories {
			marks = append(marks, next(c))
		}
		conds = append(conds, "category IN ("+strings.Join(marks, ", ")+")")
	}
	if f.MinPrice != nil {
		conds = append(conds, "price >= "+next(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		conds = append(conds, "price <= "+next(*f.MaxPrice))
	}
	if f.AddressContains != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.AddressContains)) + "%"
		conds = append(conds, "LOWER(address) LIKE "+next(pattern)+` ESCAPE '\'`)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `[`, `\[`)
	return r.Replace(s)
}

// Chunks splits n rows into [start, end) windows of at most size.
func Chunks(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// SplitCategories splits comma separated category lists, trimming each key
// and dropping empty ones.
func SplitCategories(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}
