package model

import "time"

// RawAd is one ad card as it was extracted, before price normalization.
// Nil fields mean the card had no matching element.
type RawAd struct {
	Category  string    `json:"category"`
	Name      *string   `json:"name"`
	PriceRaw  *string   `json:"price_raw"`
	Address   *string   `json:"address"`
	ImageLink *string   `json:"image_link"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// CleanedAd is derived 1:1 from a RawAd at scrape time and shares its ScrapedAt.
type CleanedAd struct {
	Category  string    `json:"category"`
	Name      *string   `json:"name"`
	Price     *int64    `json:"price"`
	Address   *string   `json:"address"`
	ImageLink *string   `json:"image_link"`
	ScrapedAt time.Time `json:"scraped_at"`
}

type Evaluation struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Rating      int       `json:"rating"`
	Pros        string    `json:"pros"`
	Cons        string    `json:"cons"`
	Comment     string    `json:"comment"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Collection names double as table names.
type Collection string

const (
	CollectionRaw         Collection = "raw_ads"
	CollectionCleaned     Collection = "cleaned_ads"
	CollectionEvaluations Collection = "evaluations"
)

func StringPtr(s string) *string { return &s }

func Int64Ptr(n int64) *int64 { return &n }

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
