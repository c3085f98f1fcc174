package mongodb

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"omnidesk/room-service/internal/store"
)

func window() (time.Time, time.Time) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func capturedPipeline(t *testing.T, col *fakeCollection) []bson.M {
	t.Helper()
	call := lastCall(t, col)
	if call.op != "aggregate" {
		t.Fatalf("expected aggregate, got %s", call.op)
	}
	pipeline, ok := call.filter.([]bson.M)
	if !ok {
		t.Fatalf("pipeline is not []bson.M: %#v", call.filter)
	}
	return pipeline
}

func TestConversationsBySourcePipeline(t *testing.T) {
	col := &fakeCollection{aggDocs: []interface{}{
		bson.M{"data": []bson.M{{"label": "widget", "value": 3}}},
	}}
	s := newTestStore(col, nil)
	start, end := window()

	result, err := s.ConversationsBySource(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Data) != 1 || result.Data[0].Label != "widget" || result.Data[0].Value != 3 {
		t.Fatalf("unexpected result: %#v", result)
	}

	pipeline := capturedPipeline(t, col)
	match := pipeline[0]["$match"].(bson.M)
	if !reflect.DeepEqual(match["source"], bson.M{"$exists": true}) {
		t.Fatalf("source presence not required: %#v", match)
	}
	if !reflect.DeepEqual(match["ts"], bson.M{"$gte": start, "$lt": end}) {
		t.Fatalf("window must be [start, end): %#v", match["ts"])
	}
}

func TestConversationsByStatusBuckets(t *testing.T) {
	col := &fakeCollection{aggDocs: []interface{}{
		bson.M{"data": []bson.M{
			{"label": "Closed", "value": 1},
			{"label": "Open", "value": 1},
			{"label": "Queued", "value": 1},
			{"label": "On_hold", "value": 1},
		}},
	}}
	s := newTestStore(col, nil)
	start, end := window()

	result, err := s.ConversationsByStatus(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	labels := make([]string, 0, len(result.Data))
	for _, entry := range result.Data {
		labels = append(labels, entry.Label)
		if entry.Value != 1 {
			t.Fatalf("each synthetic room must land in exactly one bucket: %#v", result.Data)
		}
	}
	if !reflect.DeepEqual(labels, []string{"Closed", "Open", "Queued", "On_hold"}) {
		t.Fatalf("unexpected bucket order: %v", labels)
	}

	pipeline := capturedPipeline(t, col)
	group := pipeline[1]["$group"].(bson.M)
	for _, bucket := range []string{"open", "closed", "queued", "onhold"} {
		if _, ok := group[bucket]; !ok {
			t.Fatalf("missing %s bucket in grouping stage", bucket)
		}
	}
	// The open bucket must exclude on-hold and unserved rooms; otherwise it
	// would overlap the queued and on-hold buckets.
	open := group["open"].(bson.M)["$sum"].(bson.M)["$cond"].([]interface{})
	conditions := open[0].(bson.M)["$and"].([]interface{})
	if len(conditions) != 3 {
		t.Fatalf("open predicate must carry open+notOnHold+served, got %d conditions", len(conditions))
	}

	project := pipeline[2]["$project"].(bson.M)
	rows := project["data"].([]bson.M)
	if len(rows) != 4 {
		t.Fatalf("status report must always emit four rows, got %d", len(rows))
	}
}

func TestConversationsByDepartmentLookup(t *testing.T) {
	col := &fakeCollection{aggDocs: []interface{}{}}
	s := newTestStore(col, nil)
	start, end := window()

	if _, err := s.ConversationsByDepartment(context.Background(), start, end); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pipeline := capturedPipeline(t, col)
	lookup := pipeline[1]["$lookup"].(bson.M)
	if lookup["from"] != departmentsCollection {
		t.Fatalf("department lookup must read %s, got %v", departmentsCollection, lookup["from"])
	}
	match := pipeline[0]["$match"].(bson.M)
	if !reflect.DeepEqual(match["departmentId"], bson.M{"$exists": true}) {
		t.Fatalf("rooms without a department must be excluded: %#v", match)
	}
}

func TestConversationsByTagsUnwindsTagSets(t *testing.T) {
	col := &fakeCollection{aggDocs: []interface{}{
		bson.M{"data": []bson.M{
			{"label": "a", "value": 1},
			{"label": "b", "value": 1},
		}},
	}}
	s := newTestStore(col, nil)
	start, end := window()

	result, err := s.ConversationsByTags(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// One room tagged ["a","b"] contributes to both buckets, not to a
	// combined one.
	if len(result.Data) != 2 {
		t.Fatalf("expected one bucket per tag, got %#v", result.Data)
	}

	pipeline := capturedPipeline(t, col)
	group := pipeline[1]["$group"].(bson.M)
	if !reflect.DeepEqual(group["_id"], bson.M{"$ifNull": []interface{}{"$tags", "Tag_Unspecified"}}) {
		t.Fatalf("untagged rooms must fall into the unspecified bucket: %#v", group["_id"])
	}
	if pipeline[2]["$unwind"] != "$_id" {
		t.Fatalf("tag sets must be unwound after grouping: %#v", pipeline[2])
	}
}

func TestConversationsByAgentsNameFallback(t *testing.T) {
	col := &fakeCollection{aggDocs: []interface{}{}}
	s := newTestStore(col, nil)
	start, end := window()

	if _, err := s.ConversationsByAgents(context.Background(), start, end); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pipeline := capturedPipeline(t, col)
	group := pipeline[1]["$group"].(bson.M)
	if !reflect.DeepEqual(group["_id"], bson.M{"$ifNull": []interface{}{"$servedBy._id", "Agent_Unassigned"}}) {
		t.Fatalf("unserved rooms must group under the unassigned bucket: %#v", group["_id"])
	}
	lookup := pipeline[2]["$lookup"].(bson.M)
	if lookup["from"] != usersCollection {
		t.Fatalf("agent lookup must read %s, got %v", usersCollection, lookup["from"])
	}

	var addFields bson.M
	for _, stage := range pipeline {
		if fields, ok := stage["$addFields"].(bson.M); ok {
			addFields = fields
		}
	}
	if addFields == nil {
		t.Fatalf("missing name resolution stage")
	}
	if !reflect.DeepEqual(addFields["agentName"], bson.M{"$ifNull": []interface{}{"$agent.name", "$_id"}}) {
		t.Fatalf("label must fall back to the raw id: %#v", addFields["agentName"])
	}
}

func TestRunReportEmptyWindowKeepsUniformShape(t *testing.T) {
	col := &fakeCollection{aggDocs: []interface{}{}}
	s := newTestStore(col, nil)
	start, end := window()

	result, err := s.ConversationsBySource(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Data == nil || len(result.Data) != 0 {
		t.Fatalf("empty window must still return the {data: []} shape: %#v", result)
	}
}

func TestReportRejectsInvertedWindow(t *testing.T) {
	col := &fakeCollection{}
	s := newTestStore(col, nil)
	start, end := window()

	_, err := s.ConversationsBySource(context.Background(), end, start)
	if !errors.Is(err, store.ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	if len(col.calls) != 0 {
		t.Fatalf("no aggregation should run for a bad window, got %d calls", len(col.calls))
	}
}
