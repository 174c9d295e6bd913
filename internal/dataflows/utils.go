package dataflows

import (
	"fmt"
	"strings"
	"time"

	"github.com/dyike/t0quant/internal/models"
)

// ValidateSymbol checks for a six digit exchange code.
func ValidateSymbol(code string) error {
	if len(code) != 6 {
		return fmt.Errorf("%w: %q must be a six digit code", ErrInvalidSymbol, code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q must be a six digit code", ErrInvalidSymbol, code)
		}
	}
	return nil
}

// NormalizeSymbol converts symbol to standard format
func NormalizeSymbol(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol))
}

// ParseDateString parses common date formats
func ParseDateString(dateStr string) (time.Time, error) {
	formats := []string{
		models.DateLayout,
		"20060102",
		"2006/01/02",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, strings.TrimSpace(dateStr)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
