// Package geo computes great-circle distances between user and request
// positions and buckets them into travel modes.
package geo

import (
	"math"
	"time"
)

// Point is a geographic position. A nil *Point means "unlocated".
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Lat/lon of exactly (0,0) shows up when a client submits an empty form;
// it is a valid-looking pair in the Gulf of Guinea that no user actually
// stands on, so it is treated as absent.
func (p *Point) Known() bool {
	return p != nil && !(p.Lat == 0 && p.Lon == 0)
}

const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance between two points. The second
// return value is false when either point is unknown; the distance is never
// reported as zero in that case.
func DistanceKm(a, b *Point) (float64, bool) {
	if !a.Known() || !b.Known() {
		return 0, false
	}
	la1 := a.Lat * math.Pi / 180
	la2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h)), true
}

// Mode is a coarse travel classification for a donor/request distance.
type Mode string

const (
	ModeWalking Mode = "walking"
	ModeCycling Mode = "cycling"
	ModeDriving Mode = "driving"
)

// Band thresholds and assumed speeds per mode.
const (
	walkingMaxKm = 2.0
	cyclingMaxKm = 8.0

	walkingKmph = 5.0
	cyclingKmph = 15.0
	drivingKmph = 40.0
)

// Travel is the classification result for a known distance.
type Travel struct {
	Mode             Mode          `json:"mode"`
	EstimatedMinutes int           `json:"estimated_minutes"`
	Duration         time.Duration `json:"-"`
}

// Classify buckets a distance into a travel mode with a time estimate.
func Classify(km float64) Travel {
	var mode Mode
	var speed float64
	switch {
	case km <= walkingMaxKm:
		mode, speed = ModeWalking, walkingKmph
	case km <= cyclingMaxKm:
		mode, speed = ModeCycling, cyclingKmph
	default:
		mode, speed = ModeDriving, drivingKmph
	}
	d := time.Duration(km / speed * float64(time.Hour))
	minutes := int(math.Ceil(d.Minutes()))
	return Travel{Mode: mode, EstimatedMinutes: minutes, Duration: d}
}
