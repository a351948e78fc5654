package models

import "time"

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type FenceKind string

const (
	FenceCircle  FenceKind = "circle"
	FencePolygon FenceKind = "polygon"
)

// GeoFence is a tagged variant: a circle populates Center and RadiusKm, a
// polygon populates Ring (ordered, at least three vertices). Immutable once
// attached to a transaction.
type GeoFence struct {
	Kind         FenceKind    `json:"kind"`
	Center       Coordinate   `json:"center,omitempty"`
	RadiusKm     float64      `json:"radius_km,omitempty"`
	Ring         []Coordinate `json:"ring,omitempty"`
	LocationName string       `json:"location_name,omitempty"`
}

// TimeRestriction closes a transfer after an absolute deadline. Immutable
// once attached.
type TimeRestriction struct {
	ExpiresAt time.Time `json:"expires_at"`
}
