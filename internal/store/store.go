package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"omnidesk/room-service/internal/models"
)

// SLARef carries the two SLA fields a room binding needs. DueTimeInMinutes
// becomes the room's estimatedWaitingTimeQueue.
type SLARef struct {
	ID               string
	DueTimeInMinutes int
}

// PriorityRef carries a priority id and its numeric rank. Lower weight means
// more urgent.
type PriorityRef struct {
	ID     string
	Weight int
}

// UpdateOptions controls the generic update path. BypassRestrictions skips
// the restriction filter for trusted internal callers that cannot go through
// it; it is a narrow, per-call escape hatch, never a global toggle.
type UpdateOptions struct {
	BypassRestrictions bool
}

// UpdateResult mirrors the store's acknowledgement of a partial update.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Rooms is the mutation and lookup surface over livechat room documents.
// Every mutation is a single best-effort partial update: no retries, no
// full-document replaces, storage errors propagate to the caller unchanged.
// Mutations addressed to one room return ErrRoomNotFound when no document
// matched, including when the restriction filter hid the room.
type Rooms interface {
	SetOnHold(ctx context.Context, roomID string) (UpdateResult, error)
	UnsetOnHold(ctx context.Context, roomID string) (UpdateResult, error)
	UnsetOnHoldAndPredictedVisitorAbandonment(ctx context.Context, roomID string) (UpdateResult, error)

	SetSLA(ctx context.Context, roomID string, sla SLARef) (UpdateResult, error)
	RemoveSLA(ctx context.Context, roomID string) (UpdateResult, error)
	BulkRemoveSLA(ctx context.Context, slaID string) (UpdateResult, error)
	FindOpenBySLA(ctx context.Context, slaID string, extra bson.M) ([]models.Room, error)

	SetPriority(ctx context.Context, roomID string, priority PriorityRef) (UpdateResult, error)
	UnsetPriority(ctx context.Context, roomID string) (UpdateResult, error)

	SetPredictedVisitorAbandonment(ctx context.Context, roomID string, at time.Time) (UpdateResult, error)
	UnsetPredictedVisitorAbandonment(ctx context.Context, roomID string) (UpdateResult, error)
	UnsetAllPredictedVisitorAbandonment(ctx context.Context) (UpdateResult, error)
	FindAbandonedOpenRooms(ctx context.Context, cutoff time.Time, extra bson.M) ([]models.Room, error)

	AssociateRoomsWithDepartmentToUnit(ctx context.Context, departments []string, unitID string) error
	RemoveUnitAssociationFromRooms(ctx context.Context, unitID string) (UpdateResult, error)
	UpdateDepartmentAncestors(ctx context.Context, roomID string, ancestors []string) (UpdateResult, error)

	// Update is the legacy single-document form kept for callers that
	// predate UpdateOne; it runs through the same restricted path.
	//
	// Deprecated: use UpdateOne.
	Update(ctx context.Context, filter, update bson.M, opts UpdateOptions) (UpdateResult, error)
	UpdateOne(ctx context.Context, filter, update bson.M, opts UpdateOptions) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update bson.M, opts UpdateOptions) (UpdateResult, error)
}

// ReportEntry is one label/value row of a reporting aggregation.
type ReportEntry struct {
	Label string  `bson:"label" json:"label"`
	Value float64 `bson:"value" json:"value"`
}

// ReportResult is the uniform shape every reporting query returns; the
// dashboard consumes all five endpoints through this one contract.
type ReportResult struct {
	Data []ReportEntry `bson:"data" json:"data"`
}

// Reports is the read-only reporting surface. All queries cover the
// [start, end) creation-time window and run against a secondary-preferred
// replica, so results may lag the latest writes.
type Reports interface {
	ConversationsBySource(ctx context.Context, start, end time.Time) (ReportResult, error)
	ConversationsByStatus(ctx context.Context, start, end time.Time) (ReportResult, error)
	ConversationsByDepartment(ctx context.Context, start, end time.Time) (ReportResult, error)
	ConversationsByTags(ctx context.Context, start, end time.Time) (ReportResult, error)
	ConversationsByAgents(ctx context.Context, start, end time.Time) (ReportResult, error)
}
