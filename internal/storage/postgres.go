package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/rickshaw-rides/internal/models"
)

// PostgresStore implements Store on database/sql. Every guarded transition
// is a conditional UPDATE checked via RowsAffected, and every multi-row
// mutation runs inside one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SeedLocations(ctx context.Context, locs []models.NamedLocation) error {
	for _, l := range locs {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO locations(block, name, lat, lng) VALUES($1,$2,$3,$4) ON CONFLICT (block) DO NOTHING`,
			l.Block, l.Name, l.Lat, l.Lng)
		if err != nil {
			return fmt.Errorf("seed location %s: %w", l.Block, err)
		}
	}
	return nil
}

func (p *PostgresStore) GetLocation(ctx context.Context, block string) (models.NamedLocation, error) {
	var l models.NamedLocation
	err := p.db.QueryRowContext(ctx,
		`SELECT block, name, lat, lng FROM locations WHERE block=$1`, block).
		Scan(&l.Block, &l.Name, &l.Lat, &l.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NamedLocation{}, models.ErrNotFound
	}
	return l, err
}

func (p *PostgresStore) ListLocations(ctx context.Context) ([]models.NamedLocation, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT block, name, lat, lng FROM locations ORDER BY block`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.NamedLocation
	for rows.Next() {
		var l models.NamedLocation
		if err := rows.Scan(&l.Block, &l.Name, &l.Lat, &l.Lng); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertRickshaw(ctx context.Context, r models.Rickshaw) error {
	status := models.RickshawOffline
	if r.Online {
		status = models.RickshawAvailable
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rickshaws(id, puller, contact, lat, lng, online, status, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			puller=$2, contact=$3, lat=$4, lng=$5, online=$6, updated_at=$8,
			status=CASE WHEN rickshaws.status='ON_RIDE' THEN rickshaws.status ELSE $7 END`,
		r.ID, r.Puller, r.Contact, r.Loc.Lat, r.Loc.Lng, r.Online, status, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRickshaw(ctx context.Context, id string) (models.Rickshaw, error) {
	var r models.Rickshaw
	err := p.db.QueryRowContext(ctx, `
		SELECT id, puller, contact, lat, lng, online, points, status, updated_at
		FROM rickshaws WHERE id=$1`, id).
		Scan(&r.ID, &r.Puller, &r.Contact, &r.Loc.Lat, &r.Loc.Lng, &r.Online, &r.Points, &r.Status, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Rickshaw{}, models.ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) UpdateRickshawLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rickshaws SET lat=$1, lng=$2, online=TRUE, updated_at=$3 WHERE id=$4`,
		loc.Lat, loc.Lng, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetRider(ctx context.Context, id string) (models.Rider, error) {
	var r models.Rider
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, contact, privileged, ride_count, created_at FROM riders WHERE id=$1`, id).
		Scan(&r.ID, &r.Name, &r.Contact, &r.Privileged, &r.RideCount, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Rider{}, models.ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) CreateRide(ctx context.Context, riderID, riderName, pickup, dest string, at time.Time) (models.Ride, error) {
	var ride models.Ride
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO riders(id, name, created_at) VALUES($1,$2,$3)
			ON CONFLICT (id) DO NOTHING`, riderID, riderName, at); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE riders SET ride_count = ride_count + 1 WHERE id=$1`, riderID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO rides(rider_id, pickup_block, dest_block, status, requested_at, pending_since)
			VALUES($1,$2,$3,'PENDING',$4,$4) RETURNING id`,
			riderID, pickup, dest, at).Scan(&ride.ID)
	})
	if err != nil {
		return models.Ride{}, err
	}
	ride.RiderID = riderID
	ride.PickupBlock = pickup
	ride.DestBlock = dest
	ride.Status = models.StatusPending
	ride.RequestedAt = at
	ride.PendingSince = at
	return ride, nil
}

const rideColumns = `id, rider_id, COALESCE(rickshaw_id,''), pickup_block, dest_block, status,
	requested_at, accepted_at, pickup_at, dropped_at, drop_lat, drop_lng, drop_distance_m, points`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (models.Ride, error) {
	var r models.Ride
	var acceptedAt, pickupAt, droppedAt sql.NullTime
	var dropLat, dropLng, dropDist sql.NullFloat64
	err := row.Scan(&r.ID, &r.RiderID, &r.RickshawID, &r.PickupBlock, &r.DestBlock, &r.Status,
		&r.RequestedAt, &acceptedAt, &pickupAt, &droppedAt, &dropLat, &dropLng, &dropDist, &r.Points)
	if err != nil {
		return models.Ride{}, err
	}
	if acceptedAt.Valid {
		r.AcceptedAt = &acceptedAt.Time
	}
	if pickupAt.Valid {
		r.PickupAt = &pickupAt.Time
	}
	if droppedAt.Valid {
		r.DroppedAt = &droppedAt.Time
	}
	if dropLat.Valid && dropLng.Valid {
		r.DropLoc = &models.Coord{Lat: dropLat.Float64, Lng: dropLng.Float64}
	}
	if dropDist.Valid {
		r.DropDist = &dropDist.Float64
	}
	return r, nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id int64) (models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, models.ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ListPendingRides(ctx context.Context) ([]models.PendingRide, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.rider_id, r.pickup_block, r.dest_block, r.requested_at,
		       l.name, l.lat, l.lng
		FROM rides r JOIN locations l ON l.block = r.pickup_block
		WHERE r.status = 'PENDING'
		ORDER BY r.requested_at ASC, r.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.PendingRide, 0)
	for rows.Next() {
		var pr models.PendingRide
		pr.Status = models.StatusPending
		if err := rows.Scan(&pr.ID, &pr.RiderID, &pr.PickupBlock, &pr.DestBlock, &pr.RequestedAt,
			&pr.PickupName, &pr.PickupLoc.Lat, &pr.PickupLoc.Lng); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *PostgresStore) LatestRideForPickup(ctx context.Context, block string) (models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE pickup_block=$1 ORDER BY id DESC LIMIT 1`, block))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, models.ErrNotFound
	}
	return r, err
}

// AcceptRide arbitrates the first-acceptance race: the read establishes the
// normal-path outcome, the conditional UPDATE decides the winner, and the
// rickshaw flips ON_RIDE in the same transaction.
func (p *PostgresStore) AcceptRide(ctx context.Context, rideID int64, rickshawID string, at time.Time) (models.Ride, error) {
	var ride models.Ride
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var status models.RideStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM rides WHERE id=$1`, rideID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrAlreadyTaken
		}
		if err != nil {
			return err
		}
		if status != models.StatusPending {
			return models.ErrAlreadyTaken
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE rides SET status='ACCEPTED', rickshaw_id=$1, accepted_at=$2
			WHERE id=$3 AND status='PENDING'`, rickshawID, at, rideID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrRaceLost
		}

		// conditional flip: a rickshaw already ON_RIDE (or offline) must not
		// win a second acceptance, so a miss rolls the ride update back
		res, err = tx.ExecContext(ctx,
			`UPDATE rickshaws SET status='ON_RIDE', updated_at=$1 WHERE id=$2 AND status='AVAILABLE'`, at, rickshawID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM rickshaws WHERE id=$1)`, rickshawID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return models.ErrNotFound
			}
			return models.ErrInvalidTransition
		}

		ride, err = scanRide(tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, rideID))
		return err
	})
	if err != nil {
		return models.Ride{}, err
	}
	return ride, nil
}

func (p *PostgresStore) ConfirmPickup(ctx context.Context, rideID int64, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status='PICKUP', pickup_at=$1 WHERE id=$2 AND status='ACCEPTED'`, at, rideID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

func (p *PostgresStore) CompleteRide(ctx context.Context, c Completion) (models.Ride, error) {
	var ride models.Ride
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE rides SET status=$1, dropped_at=$2, drop_lat=$3, drop_lng=$4,
			       drop_distance_m=$5, points=$6
			WHERE id=$7 AND status='PICKUP'`,
			c.Status, c.At, c.Drop.Lat, c.Drop.Lng, c.Distance, c.Points, c.RideID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM rides WHERE id=$1)`, c.RideID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return models.ErrNotFound
			}
			return models.ErrInvalidTransition
		}

		ride, err = scanRide(tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, c.RideID))
		if err != nil {
			return err
		}

		if c.Points > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO points_transactions(rickshaw_id, ride_id, earned, kind, note, created_at)
				VALUES($1,$2,$3,'EARNED',$4,$5)`,
				ride.RickshawID, ride.ID, c.Points, c.Note(), c.At); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE rickshaws SET points = points + $1 WHERE id=$2`, c.Points, ride.RickshawID); err != nil {
				return err
			}
		}
		// review path still releases the rickshaw, only the ride is parked
		_, err = tx.ExecContext(ctx,
			`UPDATE rickshaws SET status='AVAILABLE', updated_at=$1 WHERE id=$2`, c.At, ride.RickshawID)
		return err
	})
	if err != nil {
		return models.Ride{}, err
	}
	return ride, nil
}

func (p *PostgresStore) ReopenRide(ctx context.Context, rideID int64, rickshawID string, at time.Time) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE rides SET status='PENDING', rickshaw_id=NULL, accepted_at=NULL, pickup_at=NULL,
			       pending_since=$3
			WHERE id=$1 AND rickshaw_id=$2 AND status IN ('ACCEPTED','PICKUP')`, rideID, rickshawID, at)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrInvalidTransition
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE rickshaws SET status='AVAILABLE', updated_at=$1 WHERE id=$2`, at, rickshawID)
		return err
	})
}

func (p *PostgresStore) TimeoutPendingBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE rides SET status='TIMEOUT'
		WHERE status='PENDING' AND pending_since <= $1
		RETURNING id`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) AppendPointsTx(ctx context.Context, ptx models.PointsTx) (int, error) {
	var balance int
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE rickshaws SET points = points + $1 WHERE id=$2 RETURNING points`,
			ptx.SignedAmount(), ptx.RickshawID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO points_transactions(rickshaw_id, ride_id, earned, spent, kind, note, covers_until, created_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
			ptx.RickshawID, ptx.RideID, ptx.Earned, ptx.Spent, ptx.Kind, ptx.Note, ptx.CoversUntil, ptx.CreatedAt)
		return err
	})
	return balance, err
}

func (p *PostgresStore) RedeemPoints(ctx context.Context, rickshawID string, amount int, note string, at time.Time) (int, error) {
	var balance int
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT points FROM rickshaws WHERE id=$1 FOR UPDATE`, rickshawID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		if balance < amount {
			return models.ErrInsufficientBalance
		}
		balance -= amount
		if _, err := tx.ExecContext(ctx,
			`UPDATE rickshaws SET points=$1 WHERE id=$2`, balance, rickshawID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO points_transactions(rickshaw_id, spent, kind, note, created_at)
			VALUES($1,$2,'SPENT',$3,$4)`, rickshawID, amount, note, at)
		return err
	})
	return balance, err
}

func (p *PostgresStore) AdjustAward(ctx context.Context, rideID int64, newPoints int, reason string, at time.Time) (int, error) {
	var delta int
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var rickshawID sql.NullString
		var current int
		err := tx.QueryRowContext(ctx,
			`SELECT rickshaw_id, points FROM rides WHERE id=$1 FOR UPDATE`, rideID).
			Scan(&rickshawID, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !rickshawID.Valid {
			return models.ErrInvalidTransition
		}
		delta = newPoints - current
		if _, err := tx.ExecContext(ctx,
			`UPDATE rides SET points=$1, status='COMPLETED' WHERE id=$2`, newPoints, rideID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE rickshaws SET points = points + $1 WHERE id=$2`, delta, rickshawID.String); err != nil {
			return err
		}
		earned, spent := delta, 0
		if delta < 0 {
			earned, spent = 0, -delta
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO points_transactions(rickshaw_id, ride_id, earned, spent, kind, note, created_at)
			VALUES($1,$2,$3,$4,'ADJUSTED',$5,$6)`,
			rickshawID.String, rideID, earned, spent, reason, at)
		return err
	})
	return delta, err
}

// ExpireEarnedBefore debits every rickshaw whose EARNED rows predate the
// cutoff and are not already settled by a previous sweep. Each EXPIRED row
// records the cutoff it covered, so only rows that actually fell under an
// earlier sweep are excluded; the log stays append-only.
func (p *PostgresStore) ExpireEarnedBefore(ctx context.Context, cutoff, at time.Time) (int, int, error) {
	var total, affected int
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT e.rickshaw_id, SUM(e.earned)
			FROM points_transactions e
			WHERE e.kind='EARNED' AND e.created_at < $1
			  AND NOT EXISTS (
				SELECT 1 FROM points_transactions x
				WHERE x.rickshaw_id = e.rickshaw_id AND x.kind='EXPIRED'
				  AND x.covers_until > e.created_at
			  )
			GROUP BY e.rickshaw_id
			HAVING SUM(e.earned) > 0
			ORDER BY e.rickshaw_id`, cutoff)
		if err != nil {
			return err
		}
		type expiry struct {
			id     string
			amount int
		}
		var pending []expiry
		for rows.Next() {
			var e expiry
			if err := rows.Scan(&e.id, &e.amount); err != nil {
				rows.Close()
				return err
			}
			pending = append(pending, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		note := "expired earnings older than " + cutoff.Format(time.RFC3339)
		for _, e := range pending {
			if _, err := tx.ExecContext(ctx,
				`UPDATE rickshaws SET points = points - $1 WHERE id=$2`, e.amount, e.id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO points_transactions(rickshaw_id, spent, kind, note, covers_until, created_at)
				VALUES($1,$2,'EXPIRED',$3,$4,$5)`, e.id, e.amount, note, cutoff, at); err != nil {
				return err
			}
			total += e.amount
			affected++
		}
		return nil
	})
	return total, affected, err
}

func (p *PostgresStore) ListPointsTx(ctx context.Context, rickshawID string) ([]models.PointsTx, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, rickshaw_id, ride_id, earned, spent, kind, note, covers_until, created_at
		FROM points_transactions WHERE rickshaw_id=$1 ORDER BY id`, rickshawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PointsTx
	for rows.Next() {
		var tx models.PointsTx
		var rideID sql.NullInt64
		var coversUntil sql.NullTime
		if err := rows.Scan(&tx.ID, &tx.RickshawID, &rideID, &tx.Earned, &tx.Spent, &tx.Kind, &tx.Note, &coversUntil, &tx.CreatedAt); err != nil {
			return nil, err
		}
		if rideID.Valid {
			tx.RideID = &rideID.Int64
		}
		if coversUntil.Valid {
			tx.CoversUntil = &coversUntil.Time
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DashboardStats(ctx context.Context, now time.Time) (DashboardStats, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var s DashboardStats
	err := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM rides WHERE status IN ('ACCEPTED','PICKUP')),
			(SELECT COUNT(*) FROM rickshaws WHERE online),
			(SELECT COUNT(*) FROM rides WHERE status='PENDING_REVIEW'),
			(SELECT COALESCE(SUM(points),0) FROM rides WHERE dropped_at >= $1),
			(SELECT COUNT(*) FROM rides WHERE requested_at >= $1)`, dayStart).
		Scan(&s.ActiveRides, &s.OnlineRickshaws, &s.PendingReview, &s.PointsToday, &s.RidesToday)
	return s, err
}

func (p *PostgresStore) TopDestinations(ctx context.Context, limit int) ([]DestinationCount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.dest_block, COALESCE(l.name,''), COUNT(*) AS rides
		FROM rides r LEFT JOIN locations l ON l.block = r.dest_block
		WHERE r.status IN ('COMPLETED','PENDING_REVIEW')
		GROUP BY r.dest_block, l.name
		ORDER BY rides DESC, r.dest_block ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DestinationCount
	for rows.Next() {
		var d DestinationCount
		if err := rows.Scan(&d.Block, &d.Name, &d.Rides); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) TopRickshaws(ctx context.Context, limit int) ([]RickshawStanding, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT k.id, k.puller, k.points,
		       (SELECT COUNT(*) FROM rides r WHERE r.rickshaw_id = k.id AND r.status='COMPLETED')
		FROM rickshaws k
		ORDER BY k.points DESC, k.id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RickshawStanding
	for rows.Next() {
		var r RickshawStanding
		if err := rows.Scan(&r.ID, &r.Puller, &r.Points, &r.CompletedRides); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	q := `SELECT ` + rideColumns + ` FROM rides`
	args := []any{}
	if f.Status != "" {
		q += ` WHERE status=$1`
		args = append(args, f.Status)
	}
	q += ` ORDER BY id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// withTx runs fn inside a transaction, rolling back on any error so no
// partial multi-row mutation is ever visible.
func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
