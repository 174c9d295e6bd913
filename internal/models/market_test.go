package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func bar(day int, o, h, l, c string) PriceBar {
	return PriceBar{
		Symbol: "002780",
		Date:   time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC),
		Open:   decimal.RequireFromString(o),
		High:   decimal.RequireFromString(h),
		Low:    decimal.RequireFromString(l),
		Close:  decimal.RequireFromString(c),
	}
}

func TestValidateBars(t *testing.T) {
	tests := []struct {
		name string
		bars []PriceBar
		want error
	}{
		{"empty", nil, nil},
		{"ordered", []PriceBar{bar(3, "10", "11", "9", "10"), bar(4, "10", "11", "9", "10")}, nil},
		{"zero price", []PriceBar{bar(3, "0", "11", "9", "10")}, ErrInvalidPrice},
		{"high below low", []PriceBar{bar(3, "10", "9", "11", "10")}, ErrInvalidPrice},
		{"duplicate date", []PriceBar{bar(3, "10", "11", "9", "10"), bar(3, "10", "11", "9", "10")}, ErrUnorderedBars},
		{"descending", []PriceBar{bar(4, "10", "11", "9", "10"), bar(3, "10", "11", "9", "10")}, ErrUnorderedBars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBars(tt.bars)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDayTruncates(t *testing.T) {
	ts := time.Date(2024, 6, 3, 15, 0, 1, 5, time.UTC)
	if got := Day(ts); !got.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day %v", got)
	}
}
