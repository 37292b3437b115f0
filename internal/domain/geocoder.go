package domain

import "context"

// GeocodingResult is one place match from a geocoding provider. City and
// State are filled when the provider reports them.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	City             string
	State            string
	Confidence       float64
}

// Found reports whether the provider returned a usable coordinate.
func (r GeocodingResult) Found() bool {
	return r.Lat != 0 || r.Lon != 0
}

// Center returns the match as a community center.
func (r GeocodingResult) Center() *Coordinate {
	return &Coordinate{Lat: r.Lat, Lng: r.Lon}
}

// Geocoder looks up communities by name and places by coordinate.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, query, state string) (GeocodingResult, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}
