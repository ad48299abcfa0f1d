package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/rickshaw-rides/internal/dispatch"
	"github.com/example/rickshaw-rides/internal/events"
	"github.com/example/rickshaw-rides/internal/geo"
	"github.com/example/rickshaw-rides/internal/models"
	"github.com/example/rickshaw-rides/internal/observability"
	"github.com/example/rickshaw-rides/internal/storage"
)

// Engine owns the ride state machine. All transitions funnel through the
// store's atomic conditional writes; the engine adds validation, scoring,
// the timeout watchdog, and the event/metric fan-out. Events and Dispatch
// are optional.
type Engine struct {
	Store    storage.Store
	Index    geo.LocationIndex
	Events   *events.Publisher
	Dispatch *dispatch.Registry
	Log      *slog.Logger

	// PendingTimeout is how long a ride may sit PENDING before the sweeper
	// expires it. SweepInterval is the watchdog period.
	PendingTimeout time.Duration
	SweepInterval  time.Duration
}

// CompletionResult is what a driver gets back for a finished ride.
type CompletionResult struct {
	Points   int
	Distance float64
	Status   models.RideStatus
}

const (
	DefaultPendingTimeout = 60 * time.Second
	DefaultSweepInterval  = 2 * time.Second
)

// RequestRide creates a PENDING ride. An empty riderID gets a fresh guest
// identity. The pickup block must be in the catalog (the proximity feed
// needs its coordinate); the destination is only resolved at completion.
func (e *Engine) RequestRide(ctx context.Context, pickup, dest, riderID string) (models.Ride, error) {
	if pickup == "" || dest == "" {
		return models.Ride{}, fmt.Errorf("%w: pickup and destination are required", models.ErrValidation)
	}
	if _, err := e.Store.GetLocation(ctx, pickup); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Ride{}, fmt.Errorf("%w: unknown pickup block %q", models.ErrValidation, pickup)
		}
		return models.Ride{}, err
	}
	riderName := ""
	if riderID == "" {
		riderID = "GUEST_" + uuid.NewString()
		riderName = "Guest"
	}

	ride, err := e.Store.CreateRide(ctx, riderID, riderName, pickup, dest, time.Now())
	if err != nil {
		return models.Ride{}, err
	}

	observability.RidesRequested.Inc()
	e.Log.Info("ride requested", "ride_id", ride.ID, "pickup", pickup, "destination", dest, "rider_id", riderID)
	e.publish(ctx, events.RideRequested, ride)
	if e.Dispatch != nil {
		e.Dispatch.Broadcast(map[string]any{"event": "ride_requested", "ride": ride})
	}
	return ride, nil
}

// ListPendingFor returns the pending pool annotated with the distance from
// the querying rickshaw and sorted nearest-first. The underlying fetch is
// ordered by request time, and the distance sort is stable, so equidistant
// rides keep their request order. An unknown rickshaw sees an empty pool.
func (e *Engine) ListPendingFor(ctx context.Context, rickshawID string) ([]models.PendingRide, error) {
	rick, err := e.Store.GetRickshaw(ctx, rickshawID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return []models.PendingRide{}, nil
		}
		return nil, err
	}
	at := rick.Loc
	if e.Index != nil {
		if loc, ok := e.Index.Lookup(rickshawID); ok {
			at = loc
		}
	}

	pending, err := e.Store.ListPendingRides(ctx)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		pending[i].DistanceM = geo.DistanceMeters(at, pending[i].PickupLoc)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].DistanceM < pending[j].DistanceM })
	return pending, nil
}

// AcceptRide arbitrates concurrent acceptance. At most one caller ever
// succeeds per ride; losers get ErrAlreadyTaken or ErrRaceLost, both normal
// outcomes the device reports as "ride taken".
func (e *Engine) AcceptRide(ctx context.Context, rideID int64, rickshawID string) (models.Ride, error) {
	if _, err := e.Store.GetRickshaw(ctx, rickshawID); err != nil {
		return models.Ride{}, err
	}
	ride, err := e.Store.AcceptRide(ctx, rideID, rickshawID, time.Now())
	if err != nil {
		if errors.Is(err, models.ErrAlreadyTaken) || errors.Is(err, models.ErrRaceLost) {
			observability.AcceptConflicts.Inc()
			e.Log.Info("accept lost", "ride_id", rideID, "rickshaw_id", rickshawID, "outcome", err.Error())
		}
		return models.Ride{}, err
	}

	observability.RidesAccepted.Inc()
	e.Log.Info("ride accepted", "ride_id", ride.ID, "rickshaw_id", rickshawID)
	e.publish(ctx, events.RideAccepted, ride)
	if e.Dispatch != nil {
		_ = e.Dispatch.Send(rickshawID, map[string]any{"event": "ride_accepted", "ride": ride})
	}
	return ride, nil
}

// ConfirmPickup moves ACCEPTED to PICKUP. Anything else is an invalid
// transition, reported rather than silently ignored.
func (e *Engine) ConfirmPickup(ctx context.Context, rideID int64) error {
	if err := e.Store.ConfirmPickup(ctx, rideID, time.Now()); err != nil {
		return err
	}
	e.Log.Info("pickup confirmed", "ride_id", rideID)
	e.publish(ctx, events.RidePickup, map[string]any{"ride_id": rideID})
	return nil
}

// CompleteRide scores the drop against the destination's catalog coordinate.
// Within the review cutoff the ride completes and the points are credited;
// beyond it the ride is parked for manual review with zero points. Either
// way the rickshaw goes back to AVAILABLE.
func (e *Engine) CompleteRide(ctx context.Context, rideID int64, drop models.Coord) (CompletionResult, error) {
	ride, err := e.Store.GetRide(ctx, rideID)
	if err != nil {
		return CompletionResult{}, err
	}
	dest, err := e.Store.GetLocation(ctx, ride.DestBlock)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return CompletionResult{}, fmt.Errorf("destination block %q: %w", ride.DestBlock, models.ErrNotFound)
		}
		return CompletionResult{}, err
	}

	d := geo.DistanceMeters(drop, models.Coord{Lat: dest.Lat, Lng: dest.Lng})
	points := geo.ScoreForDistance(d)
	status := models.StatusCompleted
	if d > geo.ReviewDistanceMeters {
		status = models.StatusPendingReview
	}

	done, err := e.Store.CompleteRide(ctx, storage.Completion{
		RideID:   rideID,
		Status:   status,
		Drop:     drop,
		Distance: d,
		Points:   points,
		At:       time.Now(),
	})
	if err != nil {
		return CompletionResult{}, err
	}

	observability.RidesCompleted.WithLabelValues(string(status)).Inc()
	observability.PointsAwarded.Add(float64(points))
	e.Log.Info("ride completed", "ride_id", rideID, "status", status, "distance_m", d, "points", points)
	e.publish(ctx, events.RideCompleted, done)
	return CompletionResult{Points: points, Distance: d, Status: status}, nil
}

// CancelRide lets the assigned driver back out of an ACCEPTED or PICKUP
// ride. The ride re-enters the pending pool with its assignment cleared.
func (e *Engine) CancelRide(ctx context.Context, rideID int64, rickshawID, reason string) error {
	if err := e.Store.ReopenRide(ctx, rideID, rickshawID, time.Now()); err != nil {
		return err
	}
	observability.RidesCancelled.Inc()
	e.Log.Info("ride cancelled", "ride_id", rideID, "rickshaw_id", rickshawID, "reason", reason)
	e.publish(ctx, events.RideCancelled, map[string]any{"ride_id": rideID, "rickshaw_id": rickshawID, "reason": reason})
	if e.Dispatch != nil {
		e.Dispatch.Broadcast(map[string]any{"event": "ride_reopened", "ride_id": rideID})
	}
	return nil
}

// LatestStatusForPickup is the rider-side kiosk poll: the status of the most
// recent ride requested from a block, or IDLE when the block has none.
func (e *Engine) LatestStatusForPickup(ctx context.Context, block string) (string, error) {
	ride, err := e.Store.LatestRideForPickup(ctx, block)
	if errors.Is(err, models.ErrNotFound) {
		return "IDLE", nil
	}
	if err != nil {
		return "", err
	}
	return string(ride.Status), nil
}

// Run is the timeout watchdog: a periodic sweep that recomputes "still
// PENDING past the deadline" from the stored pending-since timestamps, so a
// reopened ride gets a fresh window. Recomputing from the store makes the
// watchdog survive restarts and makes it naturally idempotent against a
// late race with acceptance: an accepted ride is no longer PENDING, so the
// conditional write skips it.
func (e *Engine) Run(ctx context.Context) {
	interval := e.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepOnce(ctx)
		}
	}
}

// SweepOnce expires every ride that has been PENDING longer than the
// timeout. Failures are logged, never surfaced; no caller waits on the
// watchdog.
func (e *Engine) SweepOnce(ctx context.Context) {
	timeout := e.PendingTimeout
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}
	cutoff := time.Now().Add(-timeout)
	ids, err := e.Store.TimeoutPendingBefore(ctx, cutoff)
	if err != nil {
		e.Log.Error("timeout sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		observability.RidesTimedOut.Inc()
		e.Log.Info("ride timed out", "ride_id", id)
		e.publish(ctx, events.RideTimeout, map[string]any{"ride_id": id})
	}
}

func (e *Engine) publish(ctx context.Context, key string, payload any) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(ctx, key, payload); err != nil {
		e.Log.Warn("event publish failed", "key", key, "error", err)
	}
}
