package geo

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// Location is a point in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l Location) IsZero() bool {
	return l.Lat == 0 && l.Lng == 0
}

func (l Location) String() string {
	return fmt.Sprintf("%.4f,%.4f", l.Lat, l.Lng)
}

// DistanceKm is the haversine great-circle distance rounded to 0.1 km.
func DistanceKm(a, b Location) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return math.Round(earthRadiusKm*c*10) / 10
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
