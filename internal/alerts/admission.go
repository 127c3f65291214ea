package alerts

import (
	"encoding/json"
	"fmt"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

// IdentityKey returns the dedup key of an alert payload. Earthquakes are
// identified by the provider's event id; every other kind by its kind and
// serialized payload, so a changed reading is a distinct alert.
func IdentityKey(kind models.AlertKind, payload any) string {
	if kind == models.AlertKindEarthquake {
		switch ev := payload.(type) {
		case models.HazardEvent:
			return string(kind) + ":" + ev.ID
		case *models.HazardEvent:
			if ev != nil {
				return string(kind) + ":" + ev.ID
			}
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%s:%v", kind, payload)
	}
	return string(kind) + ":" + string(b)
}

// Admit reports whether c may become a new alert given the currently live
// alerts. It rejects a candidate whose identity matches a live alert of the
// same kind.
func Admit(c models.AlertCandidate, live []models.Alert) bool {
	key := IdentityKey(c.Kind, c.Payload)
	for _, a := range live {
		if a.Dismissed || a.Kind != c.Kind {
			continue
		}
		if IdentityKey(a.Kind, a.Payload) == key {
			return false
		}
	}
	return true
}
