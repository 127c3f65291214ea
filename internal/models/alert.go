package models

import "time"

// AlertKind is the hazard category of an alert.
type AlertKind string

const (
	AlertKindEarthquake AlertKind = "earthquake"
	AlertKindHighWind   AlertKind = "high_wind"
	AlertKindHeatWave   AlertKind = "heat_wave"
	AlertKindHeavyRain  AlertKind = "heavy_rain"
	AlertKindFlood      AlertKind = "flood"
	AlertKindLandslide  AlertKind = "landslide"
	AlertKindFire       AlertKind = "fire"
)

var alertKinds = map[AlertKind]bool{
	AlertKindEarthquake: true,
	AlertKindHighWind:   true,
	AlertKindHeatWave:   true,
	AlertKindHeavyRain:  true,
	AlertKindFlood:      true,
	AlertKindLandslide:  true,
	AlertKindFire:       true,
}

func (k AlertKind) Valid() bool {
	return alertKinds[k]
}

// Observation is the payload of threshold and placeholder alerts.
// Field order is fixed so its JSON form is a stable identity.
type Observation struct {
	Metric   string  `json:"metric,omitempty"`
	Value    float64 `json:"value,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Location string  `json:"location,omitempty"`
}

// AlertCandidate is a normalized hazard signal that has not been admitted yet.
// Payload is a HazardEvent for earthquakes and an Observation otherwise.
type AlertCandidate struct {
	Kind       AlertKind
	Payload    any
	ObservedAt time.Time
}

type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Dismissed bool      `json:"dismissed"`
}

// ChangeType says why the live alert set changed.
type ChangeType string

const (
	ChangeInserted  ChangeType = "inserted"
	ChangeDismissed ChangeType = "dismissed"
	ChangeExpired   ChangeType = "expired"
	ChangeEvicted   ChangeType = "evicted"
)

type AlertChange struct {
	Type  ChangeType `json:"type"`
	Alert Alert      `json:"alert"`
	At    time.Time  `json:"at"`
}
