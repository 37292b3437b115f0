package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds are the tunable radii, caps and fallbacks of the fetchers.
// They can be overridden by a YAML file named in THRESHOLDS_FILE.
type Thresholds struct {
	GroceryRadiusKm        float64 `yaml:"grocery_radius_km"`
	NoiseRadiusKm          float64 `yaml:"noise_radius_km"`
	CrimeRadiusKm          float64 `yaml:"crime_radius_km"`
	NightRadiusKm          float64 `yaml:"night_radius_km"`
	CrimeEnableFallback    bool    `yaml:"crime_enable_fallback"`
	CrimeFallbackPer100k   float64 `yaml:"crime_fallback_per_100k"`
	ReviewResultsPerQuery  int     `yaml:"review_results_per_query"`
	ReviewCommentsPerVideo int     `yaml:"review_comments_per_video"`
	RetryRounds            int     `yaml:"retry_rounds"`
}

// DefaultThresholds returns the built-in tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GroceryRadiusKm:        1.2,
		NoiseRadiusKm:          5.0,
		CrimeRadiusKm:          2.0,
		NightRadiusKm:          1.5,
		CrimeEnableFallback:    false,
		CrimeFallbackPer100k:   250,
		ReviewResultsPerQuery:  3,
		ReviewCommentsPerVideo: 10,
		RetryRounds:            3,
	}
}

// LoadThresholds overlays the YAML file at path onto base. Keys absent from
// the file keep their base values.
func LoadThresholds(path string, base Thresholds) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading THRESHOLDS_FILE: %w", err)
	}
	t := base
	if err := yaml.Unmarshal(data, &t); err != nil {
		return base, fmt.Errorf("parsing THRESHOLDS_FILE: %w", err)
	}
	return t, nil
}

func (t Thresholds) validate() error {
	if t.GroceryRadiusKm <= 0 || t.NoiseRadiusKm <= 0 || t.CrimeRadiusKm <= 0 || t.NightRadiusKm <= 0 {
		return errors.New("threshold radii must be positive")
	}
	if t.ReviewResultsPerQuery <= 0 || t.ReviewCommentsPerVideo <= 0 {
		return errors.New("review result caps must be positive")
	}
	if t.RetryRounds <= 0 {
		return errors.New("retry_rounds must be positive")
	}
	return nil
}
