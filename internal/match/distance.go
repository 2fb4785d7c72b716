package match

import "math"

const earthRadiusMiles = 3958.8

// averageSpeedMPH is the assumed driving speed for travel time estimates.
const averageSpeedMPH = 25.0

// Haversine returns the great-circle distance in miles between two
// coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// TravelTimeMinutes estimates driving minutes for a distance in miles.
func TravelTimeMinutes(miles float64) int {
	if miles <= 0 {
		return 0
	}
	return int(math.Round(miles / averageSpeedMPH * 60))
}
