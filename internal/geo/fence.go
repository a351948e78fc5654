package geo

import (
	"fmt"
	"math"

	"github.com/mkorenev/geopay/internal/models"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
)

const earthRadiusKm = 6371.0

// ValidateFence is the attach-time check: a fence that passes here can never
// make IsWithinFence fail with a configuration error later.
func ValidateFence(fence *models.GeoFence) error {
	if fence == nil {
		return nil
	}
	switch fence.Kind {
	case models.FenceCircle:
		if fence.RadiusKm <= 0 {
			return fmt.Errorf("%w: circle radius must be positive, got %v", pkgerrors.ErrConfiguration, fence.RadiusKm)
		}
		return nil
	case models.FencePolygon:
		if len(fence.Ring) < 3 {
			return fmt.Errorf("%w: polygon ring needs at least 3 points, got %d", pkgerrors.ErrConfiguration, len(fence.Ring))
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown fence kind %q", pkgerrors.ErrConfiguration, fence.Kind)
	}
}

// IsWithinFence reports whether point lies inside the fence. Circle fences
// compare great-circle distance against the radius, boundary inclusive.
// Polygon fences use the even-odd rule; points on the southern or western
// boundary of the ring count as inside, on the northern or eastern boundary
// as outside (the standard ray-cast asymmetry, pinned by tests).
func IsWithinFence(point models.Coordinate, fence *models.GeoFence) (bool, error) {
	if err := ValidateFence(fence); err != nil {
		return false, err
	}
	switch fence.Kind {
	case models.FenceCircle:
		return HaversineKm(point, fence.Center) <= fence.RadiusKm, nil
	case models.FencePolygon:
		return pointInRing(point, fence.Ring), nil
	}
	return false, fmt.Errorf("%w: unknown fence kind %q", pkgerrors.ErrConfiguration, fence.Kind)
}

// HaversineKm returns the great-circle distance between two coordinates in
// kilometers.
func HaversineKm(a, b models.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// pointInRing is an even-odd ray cast in lat/lon space. Fences are local
// (city-scale), so treating coordinates as planar is accurate enough and
// keeps the test deterministic.
func pointInRing(p models.Coordinate, ring []models.Coordinate) bool {
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		vi, vj := ring[i], ring[j]
		if (vi.Latitude > p.Latitude) != (vj.Latitude > p.Latitude) {
			cross := (vj.Longitude-vi.Longitude)*(p.Latitude-vi.Latitude)/(vj.Latitude-vi.Latitude) + vi.Longitude
			if p.Longitude < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
