package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"coinafrique-scraper/internal/scraper"
)

// LoadSelectors reads the extraction table from a YAML file.
// Missing keys keep the built-in coinafrique values.
func LoadSelectors(filePath string) (*scraper.Selectors, error) {
	if filePath == "" {
		return nil, fmt.Errorf("selectors file path is empty")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open selectors file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close selectors file: %v\n", closeErr)
		}
	}()

	selectors := scraper.DefaultSelectors()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(selectors); err != nil {
		return nil, fmt.Errorf("failed to parse selectors YAML: %w", err)
	}

	if err := validateSelectors(selectors); err != nil {
		return nil, err
	}

	return selectors, nil
}

// Selectors returns the table from selectors_file, or the defaults when unset.
func (c *Config) Selectors() (*scraper.Selectors, error) {
	if c.SelectorsFile == "" {
		return scraper.DefaultSelectors(), nil
	}
	return LoadSelectors(c.SelectorsFile)
}

func validateSelectors(s *scraper.Selectors) error {
	if s.CardSelector == "" {
		return fmt.Errorf("card_selector is required")
	}
	if len(s.NameSelectors) == 0 {
		return fmt.Errorf("name_selectors is required")
	}
	if len(s.PriceSelectors) == 0 {
		return fmt.Errorf("price_selectors is required")
	}
	if len(s.AddressSelectors) == 0 {
		return fmt.Errorf("address_selectors is required")
	}
	if len(s.ImageSelectors) == 0 {
		return fmt.Errorf("image_selectors is required")
	}
	if len(s.ImageAttrs) == 0 {
		return fmt.Errorf("image_attrs is required")
	}
	return nil
}
