package events

import "time"

// Meta travels with every published event.
type Meta struct {
	// Trace / request correlation id, when the mutation carried one.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Unique event id.
	ID string `json:"id"`
	// Emitting service.
	Producer string `json:"producer,omitempty"`
	// When the event was emitted.
	Time time.Time `json:"time"`
	// Event name, e.g. room.sla.removed.
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Routing keys for room state transitions.
const (
	RoomOnHoldSet        = "room.onhold.set"
	RoomOnHoldUnset      = "room.onhold.unset"
	RoomSLASet           = "room.sla.set"
	RoomSLARemoved       = "room.sla.removed"
	RoomPrioritySet      = "room.priority.set"
	RoomPriorityUnset    = "room.priority.unset"
	RoomAbandoned        = "room.abandoned"
	RoomUnitsReconciled  = "room.units.reconciled"
	RoomUnitsDissociated = "room.units.dissociated"
)

// RoomEvent is the payload for single-room transitions.
type RoomEvent struct {
	RoomID     string `json:"room_id"`
	SLAID      string `json:"sla_id,omitempty"`
	PriorityID string `json:"priority_id,omitempty"`
}

// UnitEvent is the payload for department/unit reconciliation sweeps.
type UnitEvent struct {
	UnitID      string   `json:"unit_id"`
	Departments []string `json:"departments,omitempty"`
}
