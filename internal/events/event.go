package events

import (
	"fmt"
	"strings"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/types"
)

// Event is the input to the system event mirror.
type Event struct {
	Type     enums.SystemEventType
	Entity   types.Reference
	Severity enums.EventSeverity
	Payload  map[string]any
	// Suffix disambiguates repeated async events for the same entity (e.g. a retry count).
	Suffix string
}

// AsyncKey is the deterministic dedupe key for async events:
// async:<type>:<entity_type>:<entity_id>[:suffix].
func (e Event) AsyncKey() string {
	key := fmt.Sprintf("async:%s:%s:%d", e.Type, e.Entity.Kind, e.Entity.ID)
	if suffix := strings.TrimSpace(e.Suffix); suffix != "" {
		key += ":" + suffix
	}
	return key
}

func (e Event) toModel(financial bool, key *string) *models.SystemEvent {
	severity := e.Severity
	if severity == "" {
		severity = enums.SeverityInfo
	}
	payload := map[string]any{}
	for k, v := range e.Payload {
		payload[k] = v
	}
	return &models.SystemEvent{
		Type:           e.Type,
		EntityType:     e.Entity.Kind,
		EntityID:       e.Entity.ID,
		Severity:       severity,
		Financial:      financial,
		IdempotencyKey: key,
		Payload:        payload,
	}
}
