package mongodb

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"omnidesk/room-service/internal/models"
	"omnidesk/room-service/internal/store"
)

// Collection names are fixed by the documents already on disk.
const (
	roomsCollection       = "rocketchat_room"
	departmentsCollection = "rocketchat_livechat_department"
	usersCollection       = "users"
)

const (
	defaultEstimatedWaitingTime = 9999999
	priorityWeightNotSpecified  = 99999
)

// collection is the slice of *mongo.Collection the store uses. Tests swap in
// a capture fake; production always passes the real collection.
type collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

type Store struct {
	col         collection
	reportsCol  collection
	restriction store.RestrictionFilter
	log         *slog.Logger

	slaRemovedEstimate int
	priorityUnsetValue int
}

type Options struct {
	// DefaultEstimatedWaitingTime is written to estimatedWaitingTimeQueue
	// the instant an SLA is removed, in minutes.
	DefaultEstimatedWaitingTime int
	// PriorityWeightNotSpecified is the sentinel rank written when a
	// priority is unset.
	PriorityWeightNotSpecified int
	Restriction                store.RestrictionFilter
	Logger                     *slog.Logger
}

func NewStore(db *mongo.Database, opts Options) *Store {
	estimate := opts.DefaultEstimatedWaitingTime
	if estimate <= 0 {
		estimate = defaultEstimatedWaitingTime
	}
	unsetWeight := opts.PriorityWeightNotSpecified
	if unsetWeight <= 0 {
		unsetWeight = priorityWeightNotSpecified
	}
	restriction := opts.Restriction
	if restriction == nil {
		restriction = store.PassthroughFilter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Reporting reads go to a replica when one is available; the dashboards
	// tolerate a bounded staleness window in exchange for keeping the
	// aggregation load off the primary.
	reportsCol := db.Collection(roomsCollection,
		options.Collection().SetReadPreference(readpref.SecondaryPreferred()))

	return &Store{
		col:                db.Collection(roomsCollection),
		reportsCol:         reportsCol,
		restriction:        restriction,
		log:                logger,
		slaRemovedEstimate: estimate,
		priorityUnsetValue: unsetWeight,
	}
}

func (s *Store) SetOnHold(ctx context.Context, roomID string) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "SetOnHold", roomID,
		bson.M{"$set": bson.M{"onHold": true}})
}

// UnsetOnHold removes the field instead of writing false; "false" and
// "never set" must stay indistinguishable.
func (s *Store) UnsetOnHold(ctx context.Context, roomID string) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "UnsetOnHold", roomID,
		bson.M{"$unset": bson.M{"onHold": 1}})
}

// UnsetOnHoldAndPredictedVisitorAbandonment clears both fields in one
// update command so no reader ever sees on-hold cleared while an
// abandonment prediction still pends.
func (s *Store) UnsetOnHoldAndPredictedVisitorAbandonment(ctx context.Context, roomID string) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "UnsetOnHoldAndPredictedVisitorAbandonment", roomID,
		bson.M{"$unset": bson.M{
			"omnichannel.predictedVisitorAbandonmentAt": 1,
			"onHold": 1,
		}})
}

func (s *Store) SetSLA(ctx context.Context, roomID string, sla store.SLARef) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "SetSLA", roomID,
		bson.M{"$set": bson.M{
			"slaId":                     sla.ID,
			"estimatedWaitingTimeQueue": sla.DueTimeInMinutes,
		}})
}

// RemoveSLA unsets the binding and resets the estimate in the same update;
// a two-step removal would leave a stale estimate visible in between.
func (s *Store) RemoveSLA(ctx context.Context, roomID string) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "RemoveSLA", roomID,
		bson.M{
			"$unset": bson.M{"slaId": 1},
			"$set":   bson.M{"estimatedWaitingTimeQueue": s.slaRemovedEstimate},
		})
}

// BulkRemoveSLA detaches a deleted SLA from every room still carrying it.
// Scoped to open livechat rooms so closed history keeps its recorded SLA.
func (s *Store) BulkRemoveSLA(ctx context.Context, slaID string) (store.UpdateResult, error) {
	return s.restrictedUpdateMany(ctx, "BulkRemoveSLA",
		bson.M{
			"open":  true,
			"t":     models.RoomTypeLivechat,
			"slaId": slaID,
		},
		bson.M{
			"$unset": bson.M{"slaId": 1},
			"$set":   bson.M{"estimatedWaitingTimeQueue": s.slaRemovedEstimate},
		})
}

func (s *Store) FindOpenBySLA(ctx context.Context, slaID string, extra bson.M) ([]models.Room, error) {
	filter := mergeFilter(bson.M{
		"t":     models.RoomTypeLivechat,
		"open":  true,
		"slaId": slaID,
	}, extra)
	return s.findRooms(ctx, filter)
}

func (s *Store) SetPriority(ctx context.Context, roomID string, priority store.PriorityRef) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "SetPriority", roomID,
		bson.M{"$set": bson.M{
			"priorityId":     priority.ID,
			"priorityWeight": priority.Weight,
		}})
}

// UnsetPriority removes the id but keeps priorityWeight defined, resetting
// it to the sentinel so weight-ordered queries never see an absent field.
func (s *Store) UnsetPriority(ctx context.Context, roomID string) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "UnsetPriority", roomID,
		bson.M{
			"$unset": bson.M{"priorityId": 1},
			"$set":   bson.M{"priorityWeight": s.priorityUnsetValue},
		})
}

func (s *Store) SetPredictedVisitorAbandonment(ctx context.Context, roomID string, at time.Time) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "SetPredictedVisitorAbandonment", roomID,
		bson.M{"$set": bson.M{"omnichannel.predictedVisitorAbandonmentAt": at}})
}

func (s *Store) UnsetPredictedVisitorAbandonment(ctx context.Context, roomID string) (store.UpdateResult, error) {
	return s.restrictedUpdateByID(ctx, "UnsetPredictedVisitorAbandonment", roomID,
		bson.M{"$unset": bson.M{"omnichannel.predictedVisitorAbandonmentAt": 1}})
}

// UnsetAllPredictedVisitorAbandonment is the maintenance sweep used when
// abandonment tracking is switched off: it clears the prediction across
// every open livechat room that has one.
func (s *Store) UnsetAllPredictedVisitorAbandonment(ctx context.Context) (store.UpdateResult, error) {
	return s.restrictedUpdateMany(ctx, "UnsetAllPredictedVisitorAbandonment",
		bson.M{
			"open": true,
			"t":    models.RoomTypeLivechat,
			"omnichannel.predictedVisitorAbandonmentAt": bson.M{"$exists": true},
		},
		bson.M{"$unset": bson.M{"omnichannel.predictedVisitorAbandonmentAt": 1}})
}

func (s *Store) FindAbandonedOpenRooms(ctx context.Context, cutoff time.Time, extra bson.M) ([]models.Room, error) {
	return s.findRooms(ctx, mergeFilter(abandonedOpenRoomsFilter(cutoff), extra))
}

// abandonedOpenRoomsFilter selects rooms predicted to be abandoned at or
// before the cutoff which are still open, unanswered, and not closed. All
// four conditions are required; relaxing any of them would surface rooms an
// agent already handled.
func abandonedOpenRoomsFilter(cutoff time.Time) bson.M {
	return bson.M{
		"omnichannel.predictedVisitorAbandonmentAt": bson.M{"$lte": cutoff},
		"waitingResponse": bson.M{"$exists": false},
		"closedAt":        bson.M{"$exists": false},
		"open":            true,
	}
}

// AssociateRoomsWithDepartmentToUnit reconciles room ancestor lists after a
// unit's department set changes. Two sequential phases: tag rooms of the
// supplied departments with the unit, then untag rooms whose department
// left the set. There is no transaction across the phases; a crash in
// between leaves the disassociation un-run until the next reconciliation,
// an accepted eventual-consistency window.
func (s *Store) AssociateRoomsWithDepartmentToUnit(ctx context.Context, departments []string, unitID string) error {
	if _, err := s.restrictedUpdateMany(ctx, "AssociateRoomsWithDepartmentToUnit.associate",
		unitAssociationFilter(departments, unitID),
		bson.M{"$set": bson.M{"departmentAncestors": []string{unitID}}},
	); err != nil {
		return err
	}

	_, err := s.restrictedUpdateMany(ctx, "AssociateRoomsWithDepartmentToUnit.disassociate",
		unitDisassociationFilter(departments, unitID),
		bson.M{"$unset": bson.M{"departmentAncestors": 1}})
	return err
}

// unitAssociationFilter matches rooms of the given departments that do not
// already carry the unit as an ancestor.
func unitAssociationFilter(departments []string, unitID string) bson.M {
	return bson.M{
		"$and": []bson.M{
			{"departmentId": bson.M{"$in": departments}},
			{"$or": []bson.M{
				{"departmentAncestors": bson.M{"$exists": false}},
				{"$and": []bson.M{
					{"departmentAncestors": bson.M{"$exists": true}},
					{"departmentAncestors": bson.M{"$ne": unitID}},
				}},
			}},
		},
	}
}

// unitDisassociationFilter matches rooms still tagged with the unit whose
// department is no longer in the supplied set.
func unitDisassociationFilter(departments []string, unitID string) bson.M {
	return bson.M{
		"departmentAncestors": unitID,
		"departmentId":        bson.M{"$nin": departments},
	}
}

// RemoveUnitAssociationFromRooms strips the ancestor field from every room
// carrying the unit. Teardown path for unit deletion.
func (s *Store) RemoveUnitAssociationFromRooms(ctx context.Context, unitID string) (store.UpdateResult, error) {
	return s.restrictedUpdateMany(ctx, "RemoveUnitAssociationFromRooms",
		bson.M{"departmentAncestors": unitID},
		bson.M{"$unset": bson.M{"departmentAncestors": 1}})
}

// UpdateDepartmentAncestors overrides the ancestor list directly, or removes
// it when none are supplied. Used by internal recomputation flows.
func (s *Store) UpdateDepartmentAncestors(ctx context.Context, roomID string, ancestors []string) (store.UpdateResult, error) {
	update := bson.M{"$unset": bson.M{"departmentAncestors": 1}}
	if len(ancestors) > 0 {
		update = bson.M{"$set": bson.M{"departmentAncestors": ancestors}}
	}
	return s.restrictedUpdateByID(ctx, "UpdateDepartmentAncestors", roomID, update)
}

// Update restricts the filter and delegates to the single-document path.
//
// Deprecated: use UpdateOne.
func (s *Store) Update(ctx context.Context, filter, update bson.M, opts store.UpdateOptions) (store.UpdateResult, error) {
	return s.UpdateOne(ctx, filter, update, opts)
}

func (s *Store) UpdateOne(ctx context.Context, filter, update bson.M, opts store.UpdateOptions) (store.UpdateResult, error) {
	if opts.BypassRestrictions {
		return s.rawUpdateOne(ctx, "UpdateOne.bypass", filter, update)
	}
	return s.restrictedUpdateOne(ctx, "UpdateOne", filter, update)
}

func (s *Store) UpdateMany(ctx context.Context, filter, update bson.M, opts store.UpdateOptions) (store.UpdateResult, error) {
	if opts.BypassRestrictions {
		return s.rawUpdateMany(ctx, "UpdateMany.bypass", filter, update)
	}
	return s.restrictedUpdateMany(ctx, "UpdateMany", filter, update)
}

// restrictedUpdateByID targets a single room and reports ErrRoomNotFound
// when nothing matched, whether the id is unknown or the restriction
// filter hid the room from the caller.
func (s *Store) restrictedUpdateByID(ctx context.Context, op, roomID string, update bson.M) (store.UpdateResult, error) {
	res, err := s.restrictedUpdateOne(ctx, op, bson.M{"_id": roomID}, update)
	if err != nil {
		return res, err
	}
	if res.Matched == 0 {
		return res, store.ErrRoomNotFound
	}
	return res, nil
}

func (s *Store) restrictedUpdateOne(ctx context.Context, op string, filter, update bson.M) (store.UpdateResult, error) {
	restricted, err := s.restriction.Apply(ctx, filter)
	if err != nil {
		return store.UpdateResult{}, err
	}
	return s.rawUpdateOne(ctx, op, restricted, update)
}

func (s *Store) restrictedUpdateMany(ctx context.Context, op string, filter, update bson.M) (store.UpdateResult, error) {
	restricted, err := s.restriction.Apply(ctx, filter)
	if err != nil {
		return store.UpdateResult{}, err
	}
	return s.rawUpdateMany(ctx, op, restricted, update)
}

func (s *Store) rawUpdateOne(ctx context.Context, op string, filter, update bson.M) (store.UpdateResult, error) {
	s.log.Debug("rooms updateOne", "op", op, "filter", filter, "update", update)
	res, err := s.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return store.UpdateResult{}, err
	}
	s.log.Debug("rooms updateOne result", "op", op, "matched", res.MatchedCount, "modified", res.ModifiedCount)
	return store.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *Store) rawUpdateMany(ctx context.Context, op string, filter, update bson.M) (store.UpdateResult, error) {
	s.log.Debug("rooms updateMany", "op", op, "filter", filter, "update", update)
	res, err := s.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return store.UpdateResult{}, err
	}
	s.log.Debug("rooms updateMany result", "op", op, "matched", res.MatchedCount, "modified", res.ModifiedCount)
	return store.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *Store) findRooms(ctx context.Context, filter bson.M) ([]models.Room, error) {
	cursor, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rooms []models.Room
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// mergeFilter merges caller-supplied criteria conjunctively into the base
// filter; on a key collision the caller's predicate wins.
func mergeFilter(base, extra bson.M) bson.M {
	if len(extra) == 0 {
		return base
	}
	merged := make(bson.M, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
