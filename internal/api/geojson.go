package api

import (
	"math"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(hazards []models.RankedHazard) FeatureCollection {
	features := make([]Feature, 0, len(hazards))

	for _, h := range hazards {
		e := h.Event
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{e.Coordinates.Longitude, e.Coordinates.Latitude},
			},
			Properties: map[string]any{
				"id":          e.ID,
				"type":        string(models.AlertKindEarthquake),
				"place":       e.Place,
				"magnitude":   e.Magnitude,
				"distance_km": math.Round(h.DistanceKm*10) / 10,
				"timestamp":   e.OccurredAt,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
