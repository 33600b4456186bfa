package values

import (
	"fmt"
	"math"
)

// EarthRadiusKM is the IUGG mean earth radius
const EarthRadiusKM = 6371.0088

// GeoPoint is a WGS84 coordinate in decimal degrees
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewGeoPoint validates latitude and longitude ranges
func NewGeoPoint(lat, lng float64) (GeoPoint, error) {
	p := GeoPoint{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude out of range: %v", p.Lat)
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude out of range: %v", p.Lng)
	}
	return nil
}

// DistanceTo returns the great-circle distance to other in kilometers
func (p GeoPoint) DistanceTo(other GeoPoint) float64 {
	return Haversine(p, other)
}

// WithinRadius reports whether other lies within radiusKM of p (inclusive)
func (p GeoPoint) WithinRadius(other GeoPoint, radiusKM float64) bool {
	return Haversine(p, other) <= radiusKM
}

// Haversine computes the great-circle distance between a and b in kilometers.
func Haversine(a, b GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// clamp rounding drift for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
