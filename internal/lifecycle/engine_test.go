package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/rickshaw-rides/internal/geo"
	"github.com/example/rickshaw-rides/internal/models"
	"github.com/example/rickshaw-rides/internal/storage"
)

var testBlocks = []models.NamedLocation{
	{Block: "CUET_CAMPUS", Name: "CUET Campus", Lat: 22.4633, Lng: 91.9714},
	{Block: "PAHARTOLI", Name: "Pahartoli", Lat: 22.4725, Lng: 91.9845},
	{Block: "NOAPARA", Name: "Noapara", Lat: 22.4580, Lng: 91.9920},
	{Block: "RAOJAN", Name: "Raojan", Lat: 22.4520, Lng: 91.9650},
}

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.SeedLocations(ctx, testBlocks); err != nil {
		t.Fatal(err)
	}
	e := &Engine{
		Store:          store,
		Index:          geo.NewMemoryIndex(),
		Log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		PendingTimeout: time.Minute,
	}
	return e, store
}

func registerRickshaw(t *testing.T, store *storage.MemoryStore, id string, loc models.Coord) {
	t.Helper()
	err := store.UpsertRickshaw(context.Background(), models.Rickshaw{
		ID: id, Puller: "Puller " + id, Online: true, Loc: loc, UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestHappyPathAwardsFullPoints(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	registerRickshaw(t, store, "R1", models.Coord{Lat: 22.4633, Lng: 91.9714})

	ride, err := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "")
	if err != nil {
		t.Fatal(err)
	}
	if ride.Status != models.StatusPending {
		t.Fatalf("new ride status = %s", ride.Status)
	}

	if _, err := e.AcceptRide(ctx, ride.ID, "R1"); err != nil {
		t.Fatal(err)
	}
	rick, _ := store.GetRickshaw(ctx, "R1")
	if rick.Status != models.RickshawOnRide {
		t.Fatalf("rickshaw status after accept = %s", rick.Status)
	}

	if err := e.ConfirmPickup(ctx, ride.ID); err != nil {
		t.Fatal(err)
	}

	// drop exactly at the destination's catalog coordinate
	res, err := e.CompleteRide(ctx, ride.ID, models.Coord{Lat: 22.4725, Lng: 91.9845})
	if err != nil {
		t.Fatal(err)
	}
	if res.Points != 10 || res.Status != models.StatusCompleted {
		t.Fatalf("got points=%d status=%s, want 10/COMPLETED", res.Points, res.Status)
	}
	if res.Distance != 0 {
		t.Fatalf("exact drop should be 0 m, got %f", res.Distance)
	}

	rick, _ = store.GetRickshaw(ctx, "R1")
	if rick.Points != 10 {
		t.Fatalf("balance = %d, want 10", rick.Points)
	}
	if rick.Status != models.RickshawAvailable {
		t.Fatalf("rickshaw not released: %s", rick.Status)
	}

	done, _ := store.GetRide(ctx, ride.ID)
	if done.AcceptedAt == nil || done.PickupAt == nil || done.DroppedAt == nil {
		t.Fatal("timestamps missing along the happy path")
	}
	if done.AcceptedAt.Before(done.RequestedAt) || done.PickupAt.Before(*done.AcceptedAt) || done.DroppedAt.Before(*done.PickupAt) {
		t.Fatal("timestamps not monotonically non-decreasing")
	}
}

func TestFarDropGoesToReview(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	registerRickshaw(t, store, "R1", models.Coord{})

	ride, _ := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1")
	if _, err := e.AcceptRide(ctx, ride.ID, "R1"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmPickup(ctx, ride.ID); err != nil {
		t.Fatal(err)
	}

	// ~0.0015 deg of latitude is ~166 m, well past the review cutoff
	res, err := e.CompleteRide(ctx, ride.ID, models.Coord{Lat: 22.4740, Lng: 91.9845})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.StatusPendingReview || res.Points != 0 {
		t.Fatalf("got points=%d status=%s, want 0/PENDING_REVIEW", res.Points, res.Status)
	}
	rick, _ := store.GetRickshaw(ctx, "R1")
	if rick.Status != models.RickshawAvailable {
		t.Fatal("review path must still release the rickshaw")
	}
	if rick.Points != 0 {
		t.Fatalf("no points expected, balance = %d", rick.Points)
	}
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	const drivers = 8
	for i := 0; i < drivers; i++ {
		registerRickshaw(t, store, string(rune('A'+i)), models.Coord{})
	}
	ride, _ := e.RequestRide(ctx, "CUET_CAMPUS", "NOAPARA", "rider-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := []string{}
	losers := 0
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.AcceptRide(ctx, ride.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case errors.Is(err, models.ErrAlreadyTaken) || errors.Is(err, models.ErrRaceLost):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(string(rune('A' + i)))
	}
	wg.Wait()

	if len(winners) != 1 || losers != drivers-1 {
		t.Fatalf("winners=%v losers=%d, want exactly one winner", winners, losers)
	}
	got, _ := store.GetRide(ctx, ride.ID)
	if got.RickshawID != winners[0] {
		t.Fatalf("ride assigned to %s, winner was %s", got.RickshawID, winners[0])
	}
}

func TestPendingSortedByProximityThenRequestTime(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	// rickshaw sits at NOAPARA
	registerRickshaw(t, store, "R1", models.Coord{Lat: 22.4580, Lng: 91.9920})

	far, _ := e.RequestRide(ctx, "RAOJAN", "CUET_CAMPUS", "rider-1")
	near, _ := e.RequestRide(ctx, "NOAPARA", "CUET_CAMPUS", "rider-2")

	pending, err := e.ListPendingFor(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d rides, want 2", len(pending))
	}
	if pending[0].ID != near.ID || pending[1].ID != far.ID {
		t.Fatalf("order = [%d %d], want nearest first [%d %d]", pending[0].ID, pending[1].ID, near.ID, far.ID)
	}
	if pending[0].DistanceM >= pending[1].DistanceM {
		t.Fatalf("distances not ascending: %f >= %f", pending[0].DistanceM, pending[1].DistanceM)
	}
}

func TestUnknownRickshawSeesEmptyPool(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1"); err != nil {
		t.Fatal(err)
	}
	pending, err := e.ListPendingFor(ctx, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("unknown rickshaw got %d rides, want none", len(pending))
	}
}

func TestTimeoutSweepExpiresOnlyStalePending(t *testing.T) {
	e, store := newTestEngine(t)
	e.PendingTimeout = 20 * time.Millisecond
	ctx := context.Background()
	registerRickshaw(t, store, "R1", models.Coord{})

	stale, _ := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1")
	taken, _ := e.RequestRide(ctx, "NOAPARA", "RAOJAN", "rider-2")
	if _, err := e.AcceptRide(ctx, taken.ID, "R1"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(40 * time.Millisecond)
	e.SweepOnce(ctx)

	got, _ := store.GetRide(ctx, stale.ID)
	if got.Status != models.StatusTimeout {
		t.Fatalf("stale ride status = %s, want TIMEOUT", got.Status)
	}
	got, _ = store.GetRide(ctx, taken.ID)
	if got.Status != models.StatusAccepted {
		t.Fatalf("accepted ride must survive the sweep, got %s", got.Status)
	}

	// a fresh ride inside the window is untouched
	fresh, _ := e.RequestRide(ctx, "CUET_CAMPUS", "NOAPARA", "rider-3")
	e.SweepOnce(ctx)
	got, _ = store.GetRide(ctx, fresh.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("fresh ride status = %s, want PENDING", got.Status)
	}
}

func TestCancelReopensRide(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	registerRickshaw(t, store, "R1", models.Coord{})
	registerRickshaw(t, store, "R2", models.Coord{})

	ride, _ := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1")
	if _, err := e.AcceptRide(ctx, ride.ID, "R1"); err != nil {
		t.Fatal(err)
	}
	if err := e.CancelRide(ctx, ride.ID, "R1", "wheel trouble"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetRide(ctx, ride.ID)
	if got.Status != models.StatusPending || got.RickshawID != "" || got.AcceptedAt != nil {
		t.Fatalf("cancel left ride as %+v", got)
	}
	rick, _ := store.GetRickshaw(ctx, "R1")
	if rick.Status != models.RickshawAvailable {
		t.Fatalf("rickshaw not released after cancel: %s", rick.Status)
	}

	// the reopened ride is acceptable by someone else
	if _, err := e.AcceptRide(ctx, ride.ID, "R2"); err != nil {
		t.Fatalf("reopened ride should be acceptable: %v", err)
	}
}

func TestCancelAfterTimeoutWindowGetsFreshWindow(t *testing.T) {
	e, store := newTestEngine(t)
	e.PendingTimeout = 30 * time.Millisecond
	ctx := context.Background()
	registerRickshaw(t, store, "R1", models.Coord{})

	ride, _ := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1")
	if _, err := e.AcceptRide(ctx, ride.ID, "R1"); err != nil {
		t.Fatal(err)
	}

	// the original request time is now past the timeout window
	time.Sleep(40 * time.Millisecond)
	if err := e.CancelRide(ctx, ride.ID, "R1", "wheel trouble"); err != nil {
		t.Fatal(err)
	}
	e.SweepOnce(ctx)

	got, _ := store.GetRide(ctx, ride.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("reopened ride was expired by the sweep: status=%s, want PENDING", got.Status)
	}

	// the fresh window still runs out eventually
	time.Sleep(40 * time.Millisecond)
	e.SweepOnce(ctx)
	got, _ = store.GetRide(ctx, ride.ID)
	if got.Status != models.StatusTimeout {
		t.Fatalf("reopened ride never expired: status=%s, want TIMEOUT", got.Status)
	}
}

func TestBusyRickshawCannotAcceptSecondRide(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	registerRickshaw(t, store, "R1", models.Coord{})

	first, _ := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1")
	second, _ := e.RequestRide(ctx, "NOAPARA", "RAOJAN", "rider-2")
	if _, err := e.AcceptRide(ctx, first.ID, "R1"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.AcceptRide(ctx, second.ID, "R1"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("busy rickshaw accept: got %v, want ErrInvalidTransition", err)
	}
	got, _ := store.GetRide(ctx, second.ID)
	if got.Status != models.StatusPending || got.RickshawID != "" {
		t.Fatalf("rejected accept mutated the ride: %+v", got)
	}

	// once the first ride finishes, the rickshaw may take the second
	if err := e.ConfirmPickup(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CompleteRide(ctx, first.ID, models.Coord{Lat: 22.4725, Lng: 91.9845}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AcceptRide(ctx, second.ID, "R1"); err != nil {
		t.Fatalf("released rickshaw should accept again: %v", err)
	}
}

func TestCancelByWrongDriverRejected(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	registerRickshaw(t, store, "R1", models.Coord{})
	registerRickshaw(t, store, "R2", models.Coord{})

	ride, _ := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1")
	if _, err := e.AcceptRide(ctx, ride.ID, "R1"); err != nil {
		t.Fatal(err)
	}
	if err := e.CancelRide(ctx, ride.ID, "R2", ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPickupRequiresAccepted(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	ride, _ := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1")
	if err := e.ConfirmPickup(ctx, ride.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("pickup from PENDING: expected ErrInvalidTransition, got %v", err)
	}
	if err := e.ConfirmPickup(ctx, 9999); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("pickup of missing ride: expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompleteUnknownDestinationFails(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	registerRickshaw(t, store, "R1", models.Coord{})

	ride, _ := e.RequestRide(ctx, "CUET_CAMPUS", "NOWHERE", "rider-1")
	if _, err := e.AcceptRide(ctx, ride.ID, "R1"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmPickup(ctx, ride.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CompleteRide(ctx, ride.ID, models.Coord{}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown destination, got %v", err)
	}
}

func TestLatestStatusForPickup(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	status, err := e.LatestStatusForPickup(ctx, "CUET_CAMPUS")
	if err != nil || status != "IDLE" {
		t.Fatalf("empty block: status=%s err=%v, want IDLE", status, err)
	}

	if _, err := e.RequestRide(ctx, "CUET_CAMPUS", "PAHARTOLI", "rider-1"); err != nil {
		t.Fatal(err)
	}
	status, err = e.LatestStatusForPickup(ctx, "CUET_CAMPUS")
	if err != nil || status != string(models.StatusPending) {
		t.Fatalf("status=%s err=%v, want PENDING", status, err)
	}
}

func TestRequestValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.RequestRide(ctx, "", "PAHARTOLI", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("missing pickup: got %v", err)
	}
	if _, err := e.RequestRide(ctx, "NOWHERE", "PAHARTOLI", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("unknown pickup block: got %v", err)
	}
	// unknown destination is tolerated until completion
	if _, err := e.RequestRide(ctx, "CUET_CAMPUS", "NOWHERE", ""); err != nil {
		t.Fatalf("unknown destination should be tolerated at request time: %v", err)
	}
}
