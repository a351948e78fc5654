package geo

import (
	"math"
	"testing"

	"github.com/mkorenev/geopay/internal/models"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kmToLatDegrees converts a meridian distance to degrees of latitude.
func kmToLatDegrees(km float64) float64 {
	return km / earthRadiusKm * 180 / math.Pi
}

func circleFence(radiusKm float64) *models.GeoFence {
	return &models.GeoFence{
		Kind:     models.FenceCircle,
		Center:   models.Coordinate{Latitude: 0, Longitude: 0},
		RadiusKm: radiusKm,
	}
}

func TestHaversineKm(t *testing.T) {
	origin := models.Coordinate{Latitude: 0, Longitude: 0}

	t.Run("zero distance", func(t *testing.T) {
		assert.Equal(t, 0.0, HaversineKm(origin, origin))
	})

	t.Run("meridian arc", func(t *testing.T) {
		p := models.Coordinate{Latitude: kmToLatDegrees(10.0), Longitude: 0}
		assert.InDelta(t, 10.0, HaversineKm(origin, p), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := models.Coordinate{Latitude: 52.5200, Longitude: 13.4050}
		b := models.Coordinate{Latitude: 48.8566, Longitude: 2.3522}
		assert.InDelta(t, HaversineKm(a, b), HaversineKm(b, a), 1e-9)
		// Berlin to Paris is about 878 km.
		assert.InDelta(t, 878, HaversineKm(a, b), 5)
	})
}

func TestIsWithinFence_Circle(t *testing.T) {
	fence := circleFence(10.0)

	t.Run("well inside", func(t *testing.T) {
		inside, err := IsWithinFence(models.Coordinate{Latitude: kmToLatDegrees(9.999), Longitude: 0}, fence)
		require.NoError(t, err)
		assert.True(t, inside)
	})

	t.Run("boundary is inclusive", func(t *testing.T) {
		p := models.Coordinate{Latitude: kmToLatDegrees(10.0), Longitude: 0}
		exact := circleFence(HaversineKm(fence.Center, p))
		inside, err := IsWithinFence(p, exact)
		require.NoError(t, err)
		assert.True(t, inside)
	})

	t.Run("just outside", func(t *testing.T) {
		inside, err := IsWithinFence(models.Coordinate{Latitude: kmToLatDegrees(10.001), Longitude: 0}, fence)
		require.NoError(t, err)
		assert.False(t, inside)
	})
}

func TestIsWithinFence_Polygon(t *testing.T) {
	// 10x10 degree square with its south-west corner at the origin.
	fence := &models.GeoFence{
		Kind: models.FencePolygon,
		Ring: []models.Coordinate{
			{Latitude: 0, Longitude: 0},
			{Latitude: 10, Longitude: 0},
			{Latitude: 10, Longitude: 10},
			{Latitude: 0, Longitude: 10},
		},
	}

	cases := []struct {
		name   string
		point  models.Coordinate
		inside bool
	}{
		{"center", models.Coordinate{Latitude: 5, Longitude: 5}, true},
		{"outside east", models.Coordinate{Latitude: 5, Longitude: 15}, false},
		{"outside north", models.Coordinate{Latitude: 15, Longitude: 5}, false},
		{"west edge counts inside", models.Coordinate{Latitude: 5, Longitude: 0}, true},
		{"south edge counts inside", models.Coordinate{Latitude: 0, Longitude: 5}, true},
		{"east edge counts outside", models.Coordinate{Latitude: 5, Longitude: 10}, false},
		{"north edge counts outside", models.Coordinate{Latitude: 10, Longitude: 5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inside, err := IsWithinFence(tc.point, fence)
			require.NoError(t, err)
			assert.Equal(t, tc.inside, inside)
		})
	}

	t.Run("concave ring", func(t *testing.T) {
		// L-shape: the notch at the top-right is outside.
		l := &models.GeoFence{
			Kind: models.FencePolygon,
			Ring: []models.Coordinate{
				{Latitude: 0, Longitude: 0},
				{Latitude: 10, Longitude: 0},
				{Latitude: 10, Longitude: 5},
				{Latitude: 5, Longitude: 5},
				{Latitude: 5, Longitude: 10},
				{Latitude: 0, Longitude: 10},
			},
		}
		inside, err := IsWithinFence(models.Coordinate{Latitude: 7, Longitude: 7}, l)
		require.NoError(t, err)
		assert.False(t, inside)

		inside, err = IsWithinFence(models.Coordinate{Latitude: 2, Longitude: 7}, l)
		require.NoError(t, err)
		assert.True(t, inside)
	})
}

func TestValidateFence(t *testing.T) {
	t.Run("nil fence is fine", func(t *testing.T) {
		assert.NoError(t, ValidateFence(nil))
	})

	t.Run("zero radius circle", func(t *testing.T) {
		err := ValidateFence(circleFence(0))
		assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
	})

	t.Run("degenerate ring", func(t *testing.T) {
		err := ValidateFence(&models.GeoFence{
			Kind: models.FencePolygon,
			Ring: []models.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 1, Longitude: 1}},
		})
		assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
	})

	t.Run("unknown kind", func(t *testing.T) {
		err := ValidateFence(&models.GeoFence{Kind: "oval"})
		assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
	})

	t.Run("evaluator rejects malformed fence", func(t *testing.T) {
		_, err := IsWithinFence(models.Coordinate{}, &models.GeoFence{Kind: models.FencePolygon})
		assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
	})
}
