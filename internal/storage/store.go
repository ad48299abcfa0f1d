package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/example/rickshaw-rides/internal/models"
)

// Completion carries everything the store needs to finish a ride in one
// atomic unit: the ride row update, the EARNED transaction and balance
// credit, and the rickshaw release.
type Completion struct {
	RideID   int64
	Status   models.RideStatus // COMPLETED or PENDING_REVIEW
	Drop     models.Coord
	Distance float64
	Points   int
	At       time.Time
}

// Note is the free-text attached to the EARNED transaction for a scored
// drop.
func (c Completion) Note() string {
	return fmt.Sprintf("drop %.1f m from destination (ride %d)", c.Distance, c.RideID)
}

type DashboardStats struct {
	ActiveRides     int `json:"active_rides"`
	OnlineRickshaws int `json:"online_rickshaws"`
	PendingReview   int `json:"pending_review"`
	PointsToday     int `json:"points_today"`
	RidesToday      int `json:"rides_today"`
}

type DestinationCount struct {
	Block string `json:"block"`
	Name  string `json:"name"`
	Rides int    `json:"rides"`
}

type RickshawStanding struct {
	ID             string `json:"id"`
	Puller         string `json:"puller"`
	Points         int    `json:"points"`
	CompletedRides int    `json:"completed_rides"`
}

type RideFilter struct {
	Status models.RideStatus // empty = all
	Limit  int
}

// Store is the durable ride ledger. Every mutating method that touches more
// than one row commits as a single atomic unit, and every guarded transition
// is a conditional write against the expected prior status; a miss surfaces
// as a typed sentinel from internal/models, never as a partial commit.
type Store interface {
	// location catalog
	SeedLocations(ctx context.Context, locs []models.NamedLocation) error
	GetLocation(ctx context.Context, block string) (models.NamedLocation, error)
	ListLocations(ctx context.Context) ([]models.NamedLocation, error)

	// rickshaws
	UpsertRickshaw(ctx context.Context, r models.Rickshaw) error
	GetRickshaw(ctx context.Context, id string) (models.Rickshaw, error)
	UpdateRickshawLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error

	// riders
	GetRider(ctx context.Context, id string) (models.Rider, error)

	// rides
	CreateRide(ctx context.Context, riderID, riderName, pickup, dest string, at time.Time) (models.Ride, error)
	GetRide(ctx context.Context, id int64) (models.Ride, error)
	ListPendingRides(ctx context.Context) ([]models.PendingRide, error)
	LatestRideForPickup(ctx context.Context, block string) (models.Ride, error)
	AcceptRide(ctx context.Context, rideID int64, rickshawID string, at time.Time) (models.Ride, error)
	ConfirmPickup(ctx context.Context, rideID int64, at time.Time) error
	CompleteRide(ctx context.Context, c Completion) (models.Ride, error)
	ReopenRide(ctx context.Context, rideID int64, rickshawID string, at time.Time) error
	TimeoutPendingBefore(ctx context.Context, cutoff time.Time) ([]int64, error)

	// points ledger
	AppendPointsTx(ctx context.Context, tx models.PointsTx) (int, error)
	RedeemPoints(ctx context.Context, rickshawID string, amount int, note string, at time.Time) (int, error)
	AdjustAward(ctx context.Context, rideID int64, newPoints int, reason string, at time.Time) (int, error)
	ExpireEarnedBefore(ctx context.Context, cutoff, at time.Time) (totalExpired, affected int, err error)
	ListPointsTx(ctx context.Context, rickshawID string) ([]models.PointsTx, error)

	// reporting
	DashboardStats(ctx context.Context, now time.Time) (DashboardStats, error)
	TopDestinations(ctx context.Context, limit int) ([]DestinationCount, error)
	TopRickshaws(ctx context.Context, limit int) ([]RickshawStanding, error)
	ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error)
}
