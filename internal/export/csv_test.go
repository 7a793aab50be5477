package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coinafrique-scraper/internal/model"
)

var at = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestWriteRaw(t *testing.T) {
	var buf bytes.Buffer
	ads := []model.RawAd{
		{Category: "dogs", Name: model.StringPtr("Berger, allemand"), PriceRaw: model.StringPtr("90 000 CFA"), ScrapedAt: at},
		{Category: "dogs", ScrapedAt: at},
	}

	if err := WriteRaw(&buf, ads); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	want := "category,name,price_raw,address,image_link,scraped_at\n" +
		"dogs,\"Berger, allemand\",90 000 CFA,,,2026-05-01T12:00:00Z\n" +
		"dogs,,,,,2026-05-01T12:00:00Z\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteCleanedPrice(t *testing.T) {
	var buf bytes.Buffer
	ads := []model.CleanedAd{
		{Category: "sheeps", Price: model.Int64Ptr(0), ScrapedAt: at},
		{Category: "sheeps", ScrapedAt: at},
	}

	if err := WriteCleaned(&buf, ads); err != nil {
		t.Fatalf("WriteCleaned: %v", err)
	}

	want := "category,name,price,address,image_link,scraped_at\n" +
		"sheeps,,0,,,2026-05-01T12:00:00Z\n" +
		"sheeps,,,,,2026-05-01T12:00:00Z\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteEvaluations(t *testing.T) {
	var buf bytes.Buffer
	evs := []model.Evaluation{{ID: 3, Name: "Awa", Email: "awa@example.com", Rating: 5, SubmittedAt: at}}

	if err := WriteEvaluations(&buf, evs); err != nil {
		t.Fatalf("WriteEvaluations: %v", err)
	}

	want := "id,name,email,rating,pros,cons,comment,submitted_at\n" +
		"3,Awa,awa@example.com,5,,,,2026-05-01T12:00:00Z\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestSnapshotSkipsEmptySide(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	rawPath, cleanedPath, err := Snapshot(dir, "dogs",
		[]model.RawAd{{Category: "dogs", ScrapedAt: at}}, nil)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rawPath != filepath.Join(dir, "dogs_raw.csv") || cleanedPath != "" {
		t.Fatalf("paths = %q, %q", rawPath, cleanedPath)
	}
	if _, err := os.Stat(rawPath); err != nil {
		t.Errorf("raw snapshot missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dogs_cleaned.csv")); !os.IsNotExist(err) {
		t.Errorf("cleaned snapshot should not exist, stat err = %v", err)
	}
}

func TestSnapshotOverwrites(t *testing.T) {
	dir := t.TempDir()
	first := []model.RawAd{{Category: "dogs", ScrapedAt: at}, {Category: "dogs", ScrapedAt: at}}
	second := []model.RawAd{{Category: "dogs", ScrapedAt: at}}

	if _, _, err := Snapshot(dir, "dogs", first, nil); err != nil {
		t.Fatal(err)
	}
	rawPath, _, err := Snapshot(dir, "dogs", second, nil)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(rawPath)
	if err != nil {
		t.Fatal(err)
	}
	if lines := bytes.Count(data, []byte("\n")); lines != 2 {
		t.Errorf("lines = %d, want header + 1 row", lines)
	}
}
