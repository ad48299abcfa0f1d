package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RideStatus is the closed status domain for a ride. Transitions between
// statuses happen only through the lifecycle engine.
type RideStatus string

const (
	StatusPending       RideStatus = "PENDING"
	StatusAccepted      RideStatus = "ACCEPTED"
	StatusPickup        RideStatus = "PICKUP"
	StatusCompleted     RideStatus = "COMPLETED"
	StatusTimeout       RideStatus = "TIMEOUT"
	StatusPendingReview RideStatus = "PENDING_REVIEW"
	StatusCancelled     RideStatus = "CANCELLED"
)

// RickshawStatus tracks what the driver unit is doing. ON_RIDE is held
// exactly while an ACCEPTED/PICKUP ride references the rickshaw.
type RickshawStatus string

const (
	RickshawAvailable RickshawStatus = "AVAILABLE"
	RickshawOnRide    RickshawStatus = "ON_RIDE"
	RickshawOffline   RickshawStatus = "OFFLINE"
)

type TxKind string

const (
	TxEarned   TxKind = "EARNED"
	TxSpent    TxKind = "SPENT"
	TxAdjusted TxKind = "ADJUSTED"
	TxExpired  TxKind = "EXPIRED"
)

type Rider struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Contact    string    `json:"contact"`
	Privileged bool      `json:"privileged"`
	RideCount  int       `json:"ride_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type Rickshaw struct {
	ID        string         `json:"id"`
	Puller    string         `json:"puller"`
	Contact   string         `json:"contact"`
	Loc       Coord          `json:"loc"`
	Online    bool           `json:"online"`
	Points    int            `json:"points"`
	Status    RickshawStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NamedLocation is an entry in the fixed block catalog. Pickups and
// destinations reference these by Block.
type NamedLocation struct {
	Block string  `json:"block"`
	Name  string  `json:"name"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type Ride struct {
	ID          int64      `json:"id"`
	RiderID     string     `json:"rider_id"`
	RickshawID  string     `json:"rickshaw_id,omitempty"` // empty until accepted
	PickupBlock string     `json:"pickup"`
	DestBlock   string     `json:"destination"`
	Status      RideStatus `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PickupAt    *time.Time `json:"pickup_at,omitempty"`
	DroppedAt   *time.Time `json:"dropped_at,omitempty"`
	DropLoc     *Coord     `json:"drop_loc,omitempty"`
	DropDist    *float64   `json:"drop_distance_m,omitempty"`
	Points      int        `json:"points"`

	// PendingSince is when the ride last entered PENDING. The timeout sweep
	// keys on it, so a reopened ride gets a fresh window instead of being
	// expired against its original request time.
	PendingSince time.Time `json:"-"`
}

// PendingRide is a PENDING ride joined with its pickup coordinate and
// annotated with the distance from the querying rickshaw.
type PendingRide struct {
	Ride
	PickupLoc  Coord   `json:"pickup_loc"`
	PickupName string  `json:"pickup_name"`
	DistanceM  float64 `json:"distance_m"`
}

type PointsTx struct {
	ID         int64     `json:"id"`
	RickshawID string    `json:"rickshaw_id"`
	RideID     *int64    `json:"ride_id,omitempty"`
	Earned     int       `json:"earned"`
	Spent      int       `json:"spent"`
	Kind       TxKind    `json:"kind"`
	Note       string    `json:"note"`

	// CoversUntil is set on EXPIRED rows only: the sweep cutoff the row
	// settled. EARNED rows created before it are already expired; rows
	// created after it remain eligible for later sweeps.
	CoversUntil *time.Time `json:"covers_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SignedAmount is the contribution of this transaction to the cached
// rickshaw balance: EARNED/ADJUSTED add, SPENT/EXPIRED subtract.
func (t PointsTx) SignedAmount() int {
	return t.Earned - t.Spent
}
