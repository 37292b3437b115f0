package domain

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DegreeDeltas converts a radius into latitude and longitude half-widths,
// using 111 km per degree and clamping cos(lat) at 0.1 near the poles.
func DegreeDeltas(centerLat, radiusKm float64) (latDelta, lngDelta float64) {
	latDelta = radiusKm / 111.0
	cosLat := math.Max(0.1, math.Abs(math.Cos(radians(centerLat))))
	lngDelta = radiusKm / (111.0 * cosLat)
	return latDelta, lngDelta
}

// CircleAreaKm2 returns the area of a circle with the given radius.
func CircleAreaKm2(radiusKm float64) float64 {
	return math.Pi * radiusKm * radiusKm
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
