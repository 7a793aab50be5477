package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"coinafrique-scraper/internal/model"
	"coinafrique-scraper/internal/storage"
)

var evaluationHeader = append([]string{"id"}, storage.EvaluationColumns...)

// WriteRaw writes a header and one row per ad. Absent fields become empty cells.
func WriteRaw(w io.Writer, ads []model.RawAd) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(storage.RawColumns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, ad := range ads {
		row := []string{
			ad.Category,
			model.Deref(ad.Name),
			model.Deref(ad.PriceRaw),
			model.Deref(ad.Address),
			model.Deref(ad.ImageLink),
			ad.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteCleaned(w io.Writer, ads []model.CleanedAd) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(storage.CleanedColumns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, ad := range ads {
		price := ""
		if ad.Price != nil {
			price = strconv.FormatInt(*ad.Price, 10)
		}
		row := []string{
			ad.Category,
			model.Deref(ad.Name),
			price,
			model.Deref(ad.Address),
			model.Deref(ad.ImageLink),
			ad.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteEvaluations(w io.Writer, evs []model.Evaluation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(evaluationHeader); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, ev := range evs {
		row := []string{
			strconv.FormatInt(ev.ID, 10),
			ev.Name,
			ev.Email,
			strconv.Itoa(ev.Rating),
			ev.Pros,
			ev.Cons,
			ev.Comment,
			ev.SubmittedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile creates (or truncates) path, creating parent directories, and
// hands the file to write.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("csv: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("csv: close %q: %w", path, cerr)
		}
	}()
	return write(f)
}

// SnapshotPaths returns <dir>/<category>_raw.csv and <dir>/<category>_cleaned.csv.
func SnapshotPaths(dir, category string) (rawPath, cleanedPath string) {
	return filepath.Join(dir, category+"_raw.csv"), filepath.Join(dir, category+"_cleaned.csv")
}

// Snapshot overwrites the per-category CSV pair. A side with no ads is not
// written and its returned path is empty.
func Snapshot(dir, category string, raw []model.RawAd, cleaned []model.CleanedAd) (rawPath, cleanedPath string, err error) {
	rp, cp := SnapshotPaths(dir, category)

	if len(raw) > 0 {
		if err := WriteFile(rp, func(w io.Writer) error { return WriteRaw(w, raw) }); err != nil {
			return "", "", err
		}
		rawPath = rp
	}
	if len(cleaned) > 0 {
		if err := WriteFile(cp, func(w io.Writer) error { return WriteCleaned(w, cleaned) }); err != nil {
			return rawPath, "", err
		}
		cleanedPath = cp
	}
	return rawPath, cleanedPath, nil
}
