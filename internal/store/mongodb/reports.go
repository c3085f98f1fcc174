package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"omnidesk/room-service/internal/models"
	"omnidesk/room-service/internal/store"
)

// Reporting pipelines. Each groups livechat rooms created in [start, end)
// and emits the uniform {data: [{label, value}]} document; they run on the
// secondary-preferred collection handle.

func (s *Store) ConversationsBySource(ctx context.Context, start, end time.Time) (store.ReportResult, error) {
	pipeline := []bson.M{
		{"$match": bson.M{
			"source": bson.M{"$exists": true},
			"t":      models.RoomTypeLivechat,
			"ts":     tsWindow(start, end),
		}},
		{"$group": bson.M{
			"_id":   "$source",
			"value": bson.M{"$sum": 1},
		}},
		{"$group": bson.M{
			"_id": nil,
			"data": bson.M{"$push": bson.M{
				"label": bson.M{"$ifNull": []interface{}{"$_id.alias", "$_id.type"}},
				"value": "$value",
			}},
		}},
		{"$project": bson.M{"_id": 0}},
	}
	return s.runReport(ctx, start, end, pipeline)
}

// ConversationsByStatus classifies the window in a single pass into four
// buckets whose predicates are mutually exclusive by construction: open is
// served and not on hold, queued is open and unserved, closed requires a
// recorded duration, on-hold requires the flag. Keep them that way; an
// overlapping predicate would double-count rooms.
func (s *Store) ConversationsByStatus(ctx context.Context, start, end time.Time) (store.ReportResult, error) {
	pipeline := []bson.M{
		{"$match": bson.M{
			"t":  models.RoomTypeLivechat,
			"ts": tsWindow(start, end),
		}},
		{"$group": bson.M{
			"_id": nil,
			"open": bson.M{"$sum": bson.M{"$cond": []interface{}{
				bson.M{"$and": []interface{}{
					bson.M{"$eq": []interface{}{"$open", true}},
					bson.M{"$or": []interface{}{
						bson.M{"$not": []interface{}{"$onHold"}},
						bson.M{"$eq": []interface{}{"$onHold", false}},
					}},
					bson.M{"$ifNull": []interface{}{"$servedBy", false}},
				}},
				1, 0,
			}}},
			"closed": bson.M{"$sum": bson.M{"$cond": []interface{}{
				bson.M{"$ifNull": []interface{}{"$metrics.chatDuration", false}},
				1, 0,
			}}},
			"queued": bson.M{"$sum": bson.M{"$cond": []interface{}{
				bson.M{"$and": []interface{}{
					bson.M{"$eq": []interface{}{"$open", true}},
					bson.M{"$eq": []interface{}{bson.M{"$ifNull": []interface{}{"$servedBy", nil}}, nil}},
				}},
				1, 0,
			}}},
			"onhold": bson.M{"$sum": bson.M{"$cond": []interface{}{
				bson.M{"$eq": []interface{}{"$onHold", true}},
				1, 0,
			}}},
		}},
		{"$project": bson.M{
			"_id": 0,
			"data": []bson.M{
				{"label": "Closed", "value": "$closed"},
				{"label": "Open", "value": "$open"},
				{"label": "Queued", "value": "$queued"},
				{"label": "On_hold", "value": "$onhold"},
			},
		}},
	}
	return s.runReport(ctx, start, end, pipeline)
}

func (s *Store) ConversationsByDepartment(ctx context.Context, start, end time.Time) (store.ReportResult, error) {
	pipeline := []bson.M{
		{"$match": bson.M{
			"t":            models.RoomTypeLivechat,
			"departmentId": bson.M{"$exists": true},
			"ts":           tsWindow(start, end),
		}},
		{"$lookup": bson.M{
			"from":         departmentsCollection,
			"localField":   "departmentId",
			"foreignField": "_id",
			"as":           "department",
		}},
		{"$group": bson.M{
			"_id":   bson.M{"$arrayElemAt": []interface{}{"$department.name", 0}},
			"count": bson.M{"$sum": 1},
		}},
		{"$group": bson.M{
			"_id": nil,
			"data": bson.M{"$push": bson.M{
				"label": "$_id",
				"value": "$count",
			}},
		}},
		{"$project": bson.M{"_id": 0}},
	}
	return s.runReport(ctx, start, end, pipeline)
}

// ConversationsByTags groups by the tag set, then unwinds so a room tagged
// N ways contributes one count to each of its N buckets. Untagged rooms
// land in the Tag_Unspecified bucket.
func (s *Store) ConversationsByTags(ctx context.Context, start, end time.Time) (store.ReportResult, error) {
	pipeline := []bson.M{
		{"$match": bson.M{
			"t":  models.RoomTypeLivechat,
			"ts": tsWindow(start, end),
		}},
		{"$group": bson.M{
			"_id":   bson.M{"$ifNull": []interface{}{"$tags", "Tag_Unspecified"}},
			"count": bson.M{"$sum": 1},
		}},
		{"$unwind": "$_id"},
		{"$group": bson.M{
			"_id": nil,
			"data": bson.M{"$push": bson.M{
				"label": "$_id",
				"value": "$count",
			}},
		}},
		{"$project": bson.M{"_id": 0}},
	}
	return s.runReport(ctx, start, end, pipeline)
}

func (s *Store) ConversationsByAgents(ctx context.Context, start, end time.Time) (store.ReportResult, error) {
	pipeline := []bson.M{
		{"$match": bson.M{
			"t":  models.RoomTypeLivechat,
			"ts": tsWindow(start, end),
		}},
		{"$group": bson.M{
			"_id":   bson.M{"$ifNull": []interface{}{"$servedBy._id", "Agent_Unassigned"}},
			"total": bson.M{"$sum": 1},
		}},
		{"$lookup": bson.M{
			"from":         usersCollection,
			"localField":   "_id",
			"foreignField": "_id",
			"as":           "agent",
		}},
		{"$set": bson.M{
			"agent": bson.M{"$first": "$agent"},
		}},
		// Unassigned buckets and deleted users have no record to resolve;
		// fall back to the raw id as the label.
		{"$addFields": bson.M{
			"agentName": bson.M{"$ifNull": []interface{}{"$agent.name", "$_id"}},
		}},
		{"$group": bson.M{
			"_id": nil,
			"data": bson.M{"$push": bson.M{
				"label": "$agentName",
				"value": "$total",
			}},
		}},
		{"$project": bson.M{"_id": 0}},
	}
	return s.runReport(ctx, start, end, pipeline)
}

func (s *Store) runReport(ctx context.Context, start, end time.Time, pipeline []bson.M) (store.ReportResult, error) {
	if !end.After(start) {
		return store.ReportResult{}, store.ErrInvalidWindow
	}
	cursor, err := s.reportsCol.Aggregate(ctx, pipeline)
	if err != nil {
		return store.ReportResult{}, err
	}
	defer cursor.Close(ctx)

	var results []store.ReportResult
	if err := cursor.All(ctx, &results); err != nil {
		return store.ReportResult{}, err
	}
	// An empty window produces no grouping document at all; callers still
	// get the uniform shape.
	if len(results) == 0 {
		return store.ReportResult{Data: []store.ReportEntry{}}, nil
	}
	return results[0], nil
}

func tsWindow(start, end time.Time) bson.M {
	return bson.M{"$gte": start, "$lt": end}
}
