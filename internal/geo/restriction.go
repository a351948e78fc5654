package geo

import (
	"time"

	"github.com/mkorenev/geopay/internal/models"
)

// IsExpired reports whether now is strictly past the restriction deadline.
// A claim at the exact expiry instant still succeeds.
func IsExpired(r *models.TimeRestriction, now time.Time) bool {
	if r == nil {
		return false
	}
	return now.After(r.ExpiresAt)
}
