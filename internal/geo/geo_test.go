package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	bangalore := Location{Lat: 12.9716, Lng: 77.5946}
	mgRoad := Location{Lat: 12.9756, Lng: 77.6069}

	assert.Equal(t, 0.0, DistanceKm(bangalore, bangalore))
	assert.InDelta(t, 1.4, DistanceKm(bangalore, mgRoad), 0.1)
	assert.Equal(t, DistanceKm(bangalore, mgRoad), DistanceKm(mgRoad, bangalore))
}

func TestDistanceKmLongHaul(t *testing.T) {
	delhi := Location{Lat: 28.5494, Lng: 77.2381}
	mumbai := Location{Lat: 19.1136, Lng: 72.8697}
	assert.InDelta(t, 1143, DistanceKm(delhi, mumbai), 15)
}
