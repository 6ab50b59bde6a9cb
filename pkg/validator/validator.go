package validator

import (
	"errors"
	"fmt"
	"time"
)

// SupportedHorizons lists the look-ahead horizons (in months) the system
// trains and serves models for.
var SupportedHorizons = []int{1, 2, 3, 6, 12, 24, 36}

func ValidateHorizon(h int) error {
	for _, s := range SupportedHorizons {
		if h == s {
			return nil
		}
	}
	return fmt.Errorf("invalid horizon %d: must be one of %v", h, SupportedHorizons)
}

func ValidateRefDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return errors.New("ref_date must be in YYYY-MM-DD format")
	}
	return nil
}
