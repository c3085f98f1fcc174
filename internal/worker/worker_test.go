package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"omnidesk/room-service/internal/events"
	"omnidesk/room-service/internal/models"
	"omnidesk/room-service/internal/store"
)

// sweepRooms implements only the store surface the sweep touches; the
// embedded interface panics on anything else, catching accidental calls.
type sweepRooms struct {
	store.Rooms
	findFn  func(ctx context.Context, cutoff time.Time, extra bson.M) ([]models.Room, error)
	unsetFn func(ctx context.Context, roomID string) (store.UpdateResult, error)
}

func (f sweepRooms) FindAbandonedOpenRooms(ctx context.Context, cutoff time.Time, extra bson.M) ([]models.Room, error) {
	return f.findFn(ctx, cutoff, extra)
}

func (f sweepRooms) UnsetPredictedVisitorAbandonment(ctx context.Context, roomID string) (store.UpdateResult, error) {
	return f.unsetFn(ctx, roomID)
}

type capturingPublisher struct {
	keys    []string
	roomIDs []string
	err     error
}

func (p *capturingPublisher) Publish(_ context.Context, key string, envelope events.Envelope) error {
	p.keys = append(p.keys, key)
	if data, ok := envelope.Data.(events.RoomEvent); ok {
		p.roomIDs = append(p.roomIDs, data.RoomID)
	}
	return p.err
}

func (p *capturingPublisher) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSweepsAbandonedRooms(t *testing.T) {
	var unsetIDs []string
	rooms := sweepRooms{
		findFn: func(ctx context.Context, cutoff time.Time, extra bson.M) ([]models.Room, error) {
			if extra != nil {
				t.Fatalf("sweep must not narrow the abandonment filter: %#v", extra)
			}
			return []models.Room{{ID: "room-1"}, {ID: "room-2"}}, nil
		},
		unsetFn: func(ctx context.Context, roomID string) (store.UpdateResult, error) {
			unsetIDs = append(unsetIDs, roomID)
			return store.UpdateResult{Matched: 1, Modified: 1}, nil
		},
	}
	pub := &capturingPublisher{}

	processed, err := New(rooms, pub, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected 2 processed, got %d", processed)
	}
	if len(unsetIDs) != 2 || unsetIDs[0] != "room-1" || unsetIDs[1] != "room-2" {
		t.Fatalf("unexpected unset order: %v", unsetIDs)
	}
	if len(pub.keys) != 2 || pub.keys[0] != events.RoomAbandoned {
		t.Fatalf("unexpected events: %v", pub.keys)
	}
	if pub.roomIDs[0] != "room-1" || pub.roomIDs[1] != "room-2" {
		t.Fatalf("unexpected event payloads: %v", pub.roomIDs)
	}
}

func TestRunSkipsRoomWhenUnsetFails(t *testing.T) {
	rooms := sweepRooms{
		findFn: func(ctx context.Context, cutoff time.Time, extra bson.M) ([]models.Room, error) {
			return []models.Room{{ID: "room-1"}, {ID: "room-2"}}, nil
		},
		unsetFn: func(ctx context.Context, roomID string) (store.UpdateResult, error) {
			if roomID == "room-1" {
				return store.UpdateResult{}, errors.New("write conflict")
			}
			return store.UpdateResult{Matched: 1, Modified: 1}, nil
		},
	}
	pub := &capturingPublisher{}

	processed, err := New(rooms, pub, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}
	// The failed room keeps its prediction and is picked up again next tick.
	if len(pub.roomIDs) != 1 || pub.roomIDs[0] != "room-2" {
		t.Fatalf("unexpected event payloads: %v", pub.roomIDs)
	}
}

func TestRunPropagatesLookupError(t *testing.T) {
	wantErr := errors.New("cursor timeout")
	rooms := sweepRooms{
		findFn: func(ctx context.Context, cutoff time.Time, extra bson.M) ([]models.Room, error) {
			return nil, wantErr
		},
	}

	processed, err := New(rooms, &capturingPublisher{}, testLogger()).Run(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed, got %d", processed)
	}
}

func TestRunPublishFailureStillCounts(t *testing.T) {
	rooms := sweepRooms{
		findFn: func(ctx context.Context, cutoff time.Time, extra bson.M) ([]models.Room, error) {
			return []models.Room{{ID: "room-1"}}, nil
		},
		unsetFn: func(ctx context.Context, roomID string) (store.UpdateResult, error) {
			return store.UpdateResult{Matched: 1, Modified: 1}, nil
		},
	}
	pub := &capturingPublisher{err: errors.New("broker down")}

	processed, err := New(rooms, pub, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}
}
