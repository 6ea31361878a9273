package reconcile

import (
	"strings"
	"time"

	"supplychain-tracker-go/internal/apperr"

	"github.com/ethereum/go-ethereum/common"
)

const dateLayout = "2006-01-02"

func validateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return apperr.New(apperr.KindValidation, "invalid address: %s", address)
	}
	return nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and falls back
// to today when value is empty.
func parseDate(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, apperr.New(apperr.KindValidation, "invalid manufacture date: %s", value)
	}
	return t.UTC(), nil
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
