package models

import "time"

// Location is the observer position. It is replaced wholesale, never mutated.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Valid reports whether the coordinates are on the globe.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// HazardEvent is a seismic event as issued by the provider. ID is the
// provider's id and is the event's identity.
type HazardEvent struct {
	ID          string      `json:"id"`
	Magnitude   float64     `json:"magnitude"`
	Place       string      `json:"place"`
	Coordinates Coordinates `json:"coordinates"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// RankedHazard pairs an event with its distance from the observer.
type RankedHazard struct {
	Event      HazardEvent `json:"event"`
	DistanceKm float64     `json:"distance_km"`
}

type WeatherSnapshot struct {
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // %
	WindSpeed   float64   `json:"wind_speed"`  // km/h
	Description string    `json:"description"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// PrecipitationReading is the mm/h value of the current local hour.
type PrecipitationReading struct {
	MillimetersPerHour float64   `json:"mm_per_hour"`
	Hour               time.Time `json:"hour"`
}

// PlaceCandidate is one geocoder search hit.
type PlaceCandidate struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

func (p PlaceCandidate) Location() Location {
	return Location{Name: p.Name, Lat: p.Lat, Lon: p.Lon}
}
