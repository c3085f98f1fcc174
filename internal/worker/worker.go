package worker

import (
	"context"
	"log/slog"
	"time"

	"omnidesk/room-service/internal/events"
	"omnidesk/room-service/internal/store"
)

// Worker sweeps rooms whose predicted visitor abandonment time has passed:
// it clears the prediction and publishes a room.abandoned event per room so
// downstream automation (closing, routing) can react. Each tick is best
// effort; a failed room is retried naturally on the next tick because its
// prediction is only cleared after a successful update.
type Worker struct {
	rooms     store.Rooms
	publisher events.Publisher
	log       *slog.Logger
}

func New(rooms store.Rooms, publisher events.Publisher, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{rooms: rooms, publisher: publisher, log: logger}
}

func (w *Worker) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC()
	abandoned, err := w.rooms.FindAbandonedOpenRooms(ctx, cutoff, nil)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, room := range abandoned {
		if _, err := w.rooms.UnsetPredictedVisitorAbandonment(ctx, room.ID); err != nil {
			w.log.Error("abandonment sweep: unset failed", "room", room.ID, "error", err)
			continue
		}
		if err := w.publisher.Publish(ctx, events.RoomAbandoned, events.Envelope{
			Data: events.RoomEvent{RoomID: room.ID},
		}); err != nil {
			w.log.Error("abandonment sweep: publish failed", "room", room.ID, "error", err)
		}
		processed++
	}
	return processed, nil
}
