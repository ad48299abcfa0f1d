package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/rickshaw-rides/internal/models"
)

// MemoryStore keeps the whole ledger behind one mutex, which makes every
// multi-row mutation trivially atomic. Used by tests and zero-config local
// runs; the semantics mirror PostgresStore exactly.
type MemoryStore struct {
	mu        sync.Mutex
	locations map[string]models.NamedLocation
	riders    map[string]*models.Rider
	rickshaws map[string]*models.Rickshaw
	rides     map[int64]*models.Ride
	ptx       []models.PointsTx
	nextRide  int64
	nextTx    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[string]models.NamedLocation),
		riders:    make(map[string]*models.Rider),
		rickshaws: make(map[string]*models.Rickshaw),
		rides:     make(map[int64]*models.Ride),
	}
}

func (m *MemoryStore) SeedLocations(ctx context.Context, locs []models.NamedLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range locs {
		if _, ok := m.locations[l.Block]; !ok {
			m.locations[l.Block] = l
		}
	}
	return nil
}

func (m *MemoryStore) GetLocation(ctx context.Context, block string) (models.NamedLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locations[block]
	if !ok {
		return models.NamedLocation{}, models.ErrNotFound
	}
	return l, nil
}

func (m *MemoryStore) ListLocations(ctx context.Context) ([]models.NamedLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.NamedLocation, 0, len(m.locations))
	for _, l := range m.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Block < out[j].Block })
	return out, nil
}

func (m *MemoryStore) UpsertRickshaw(ctx context.Context, r models.Rickshaw) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rickshaws[r.ID]; ok {
		cur.Puller = r.Puller
		cur.Contact = r.Contact
		cur.Loc = r.Loc
		cur.Online = r.Online
		if cur.Status == models.RickshawOffline && r.Online {
			cur.Status = models.RickshawAvailable
		}
		if !r.Online && cur.Status != models.RickshawOnRide {
			cur.Status = models.RickshawOffline
		}
		cur.UpdatedAt = r.UpdatedAt
		return nil
	}
	cp := r
	if cp.Status == "" {
		cp.Status = models.RickshawAvailable
		if !cp.Online {
			cp.Status = models.RickshawOffline
		}
	}
	m.rickshaws[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRickshaw(ctx context.Context, id string) (models.Rickshaw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rickshaws[id]
	if !ok {
		return models.Rickshaw{}, models.ErrNotFound
	}
	return *r, nil
}

func (m *MemoryStore) UpdateRickshawLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rickshaws[id]
	if !ok {
		return models.ErrNotFound
	}
	r.Loc = loc
	r.Online = true
	r.UpdatedAt = at
	return nil
}

func (m *MemoryStore) GetRider(ctx context.Context, id string) (models.Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return models.Rider{}, models.ErrNotFound
	}
	return *r, nil
}

func (m *MemoryStore) CreateRide(ctx context.Context, riderID, riderName, pickup, dest string, at time.Time) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rider, ok := m.riders[riderID]
	if !ok {
		rider = &models.Rider{ID: riderID, Name: riderName, CreatedAt: at}
		m.riders[riderID] = rider
	}
	rider.RideCount++

	m.nextRide++
	ride := &models.Ride{
		ID:           m.nextRide,
		RiderID:      riderID,
		PickupBlock:  pickup,
		DestBlock:    dest,
		Status:       models.StatusPending,
		RequestedAt:  at,
		PendingSince: at,
	}
	m.rides[ride.ID] = ride
	return *ride, nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id int64) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, models.ErrNotFound
	}
	return *r, nil
}

// ListPendingRides returns PENDING rides joined with their pickup
// coordinates, ordered by request time ascending. Rides whose pickup block
// is missing from the catalog cannot be navigated to and are skipped.
func (m *MemoryStore) ListPendingRides(ctx context.Context) ([]models.PendingRide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PendingRide, 0)
	for _, r := range m.rides {
		if r.Status != models.StatusPending {
			continue
		}
		loc, ok := m.locations[r.PickupBlock]
		if !ok {
			continue
		}
		out = append(out, models.PendingRide{
			Ride:       *r,
			PickupLoc:  models.Coord{Lat: loc.Lat, Lng: loc.Lng},
			PickupName: loc.Name,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (m *MemoryStore) LatestRideForPickup(ctx context.Context, block string) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Ride
	for _, r := range m.rides {
		if r.PickupBlock != block {
			continue
		}
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	if latest == nil {
		return models.Ride{}, models.ErrNotFound
	}
	return *latest, nil
}

func (m *MemoryStore) AcceptRide(ctx context.Context, rideID int64, rickshawID string, at time.Time) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideID]
	if !ok || ride.Status != models.StatusPending {
		return models.Ride{}, models.ErrAlreadyTaken
	}
	rick, ok := m.rickshaws[rickshawID]
	if !ok {
		return models.Ride{}, models.ErrNotFound
	}
	// a rickshaw can hold at most one ACCEPTED/PICKUP ride; anything but
	// AVAILABLE cannot take on another
	if rick.Status != models.RickshawAvailable {
		return models.Ride{}, models.ErrInvalidTransition
	}
	// under one mutex the read above cannot go stale, so ErrRaceLost never
	// fires here; the Postgres store reports it when the conditional
	// update misses
	t := at
	ride.Status = models.StatusAccepted
	ride.RickshawID = rickshawID
	ride.AcceptedAt = &t
	rick.Status = models.RickshawOnRide
	return *ride, nil
}

func (m *MemoryStore) ConfirmPickup(ctx context.Context, rideID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideID]
	if !ok || ride.Status != models.StatusAccepted {
		return models.ErrInvalidTransition
	}
	t := at
	ride.Status = models.StatusPickup
	ride.PickupAt = &t
	return nil
}

func (m *MemoryStore) CompleteRide(ctx context.Context, c Completion) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[c.RideID]
	if !ok {
		return models.Ride{}, models.ErrNotFound
	}
	if ride.Status != models.StatusPickup {
		return models.Ride{}, models.ErrInvalidTransition
	}
	t := c.At
	drop := c.Drop
	dist := c.Distance
	ride.Status = c.Status
	ride.DroppedAt = &t
	ride.DropLoc = &drop
	ride.DropDist = &dist
	ride.Points = c.Points

	if rick, ok := m.rickshaws[ride.RickshawID]; ok {
		if c.Points > 0 {
			rideID := ride.ID
			m.appendTxLocked(models.PointsTx{
				RickshawID: rick.ID,
				RideID:     &rideID,
				Earned:     c.Points,
				Kind:       models.TxEarned,
				Note:       c.Note(),
				CreatedAt:  c.At,
			})
		}
		rick.Status = models.RickshawAvailable
	}
	return *ride, nil
}

func (m *MemoryStore) ReopenRide(ctx context.Context, rideID int64, rickshawID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideID]
	if !ok || ride.RickshawID != rickshawID {
		return models.ErrInvalidTransition
	}
	if ride.Status != models.StatusAccepted && ride.Status != models.StatusPickup {
		return models.ErrInvalidTransition
	}
	ride.Status = models.StatusPending
	ride.RickshawID = ""
	ride.AcceptedAt = nil
	ride.PickupAt = nil
	ride.PendingSince = at
	if rick, ok := m.rickshaws[rickshawID]; ok {
		rick.Status = models.RickshawAvailable
	}
	return nil
}

func (m *MemoryStore) TimeoutPendingBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, r := range m.rides {
		if r.Status == models.StatusPending && !r.PendingSince.After(cutoff) {
			r.Status = models.StatusTimeout
			ids = append(ids, r.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// appendTxLocked appends a transaction and applies its signed amount to the
// cached balance. Caller holds the mutex.
func (m *MemoryStore) appendTxLocked(tx models.PointsTx) models.PointsTx {
	m.nextTx++
	tx.ID = m.nextTx
	m.ptx = append(m.ptx, tx)
	if rick, ok := m.rickshaws[tx.RickshawID]; ok {
		rick.Points += tx.SignedAmount()
	}
	return tx
}

func (m *MemoryStore) AppendPointsTx(ctx context.Context, tx models.PointsTx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rick, ok := m.rickshaws[tx.RickshawID]
	if !ok {
		return 0, models.ErrNotFound
	}
	m.appendTxLocked(tx)
	return rick.Points, nil
}

func (m *MemoryStore) RedeemPoints(ctx context.Context, rickshawID string, amount int, note string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rick, ok := m.rickshaws[rickshawID]
	if !ok {
		return 0, models.ErrNotFound
	}
	if rick.Points < amount {
		return rick.Points, models.ErrInsufficientBalance
	}
	m.appendTxLocked(models.PointsTx{
		RickshawID: rickshawID,
		Spent:      amount,
		Kind:       models.TxSpent,
		Note:       note,
		CreatedAt:  at,
	})
	return rick.Points, nil
}

func (m *MemoryStore) AdjustAward(ctx context.Context, rideID int64, newPoints int, reason string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideID]
	if !ok {
		return 0, models.ErrNotFound
	}
	if ride.RickshawID == "" {
		return 0, models.ErrInvalidTransition
	}
	delta := newPoints - ride.Points
	ride.Points = newPoints
	ride.Status = models.StatusCompleted
	tx := models.PointsTx{
		RickshawID: ride.RickshawID,
		RideID:     &ride.ID,
		Kind:       models.TxAdjusted,
		Note:       reason,
		CreatedAt:  at,
	}
	if delta >= 0 {
		tx.Earned = delta
	} else {
		tx.Spent = -delta
	}
	m.appendTxLocked(tx)
	return delta, nil
}

func (m *MemoryStore) ExpireEarnedBefore(ctx context.Context, cutoff, at time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// an EARNED row is already covered when an EXPIRED row whose settled
	// cutoff lies past it exists for the same rickshaw; the log itself is
	// the audit trail, no in-place flags
	covered := make(map[string]time.Time)
	for _, tx := range m.ptx {
		if tx.Kind != models.TxExpired || tx.CoversUntil == nil {
			continue
		}
		if cur, ok := covered[tx.RickshawID]; !ok || tx.CoversUntil.After(cur) {
			covered[tx.RickshawID] = *tx.CoversUntil
		}
	}
	sums := make(map[string]int)
	for _, tx := range m.ptx {
		if tx.Kind != models.TxEarned || !tx.CreatedAt.Before(cutoff) {
			continue
		}
		if cov, ok := covered[tx.RickshawID]; ok && tx.CreatedAt.Before(cov) {
			continue
		}
		sums[tx.RickshawID] += tx.Earned
	}

	total, affected := 0, 0
	ids := make([]string, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		amount := sums[id]
		if amount <= 0 {
			continue
		}
		cov := cutoff
		m.appendTxLocked(models.PointsTx{
			RickshawID:  id,
			Spent:       amount,
			Kind:        models.TxExpired,
			Note:        "expired earnings older than " + cutoff.Format(time.RFC3339),
			CoversUntil: &cov,
			CreatedAt:   at,
		})
		total += amount
		affected++
	}
	return total, affected, nil
}

func (m *MemoryStore) ListPointsTx(ctx context.Context, rickshawID string) ([]models.PointsTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PointsTx, 0)
	for _, tx := range m.ptx {
		if tx.RickshawID == rickshawID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) DashboardStats(ctx context.Context, now time.Time) (DashboardStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var s DashboardStats
	for _, r := range m.rides {
		switch r.Status {
		case models.StatusAccepted, models.StatusPickup:
			s.ActiveRides++
		case models.StatusPendingReview:
			s.PendingReview++
		}
		if !r.RequestedAt.Before(dayStart) {
			s.RidesToday++
		}
		if r.DroppedAt != nil && !r.DroppedAt.Before(dayStart) {
			s.PointsToday += r.Points
		}
	}
	for _, rick := range m.rickshaws {
		if rick.Online {
			s.OnlineRickshaws++
		}
	}
	return s, nil
}

func (m *MemoryStore) TopDestinations(ctx context.Context, limit int) ([]DestinationCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range m.rides {
		if r.Status == models.StatusCompleted || r.Status == models.StatusPendingReview {
			counts[r.DestBlock]++
		}
	}
	out := make([]DestinationCount, 0, len(counts))
	for block, n := range counts {
		dc := DestinationCount{Block: block, Rides: n}
		if loc, ok := m.locations[block]; ok {
			dc.Name = loc.Name
		}
		out = append(out, dc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rides == out[j].Rides {
			return out[i].Block < out[j].Block
		}
		return out[i].Rides > out[j].Rides
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) TopRickshaws(ctx context.Context, limit int) ([]RickshawStanding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	completed := make(map[string]int)
	for _, r := range m.rides {
		if r.Status == models.StatusCompleted {
			completed[r.RickshawID]++
		}
	}
	out := make([]RickshawStanding, 0, len(m.rickshaws))
	for _, rick := range m.rickshaws {
		out = append(out, RickshawStanding{
			ID:             rick.ID,
			Puller:         rick.Puller,
			Points:         rick.Points,
			CompletedRides: completed[rick.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points == out[j].Points {
			return out[i].ID < out[j].ID
		}
		return out[i].Points > out[j].Points
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
