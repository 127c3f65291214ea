// Package geo computes great-circle distances and ranks seismic events by
// their distance from the observer.
package geo

import (
	"math"
	"sort"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

const EarthRadiusKm = 6371.0

// DistanceKm returns the haversine distance between two points given in degrees.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Rank orders events by ascending distance from loc and keeps at most limit
// of them. limit <= 0 keeps all. events is not modified.
func Rank(loc models.Location, events []models.HazardEvent, limit int) []models.RankedHazard {
	ranked := make([]models.RankedHazard, 0, len(events))
	for _, e := range events {
		ranked = append(ranked, models.RankedHazard{
			Event:      e,
			DistanceKm: DistanceKm(loc.Lat, loc.Lon, e.Coordinates.Latitude, e.Coordinates.Longitude),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
