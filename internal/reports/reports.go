package reports

import (
	"context"
	"time"

	"github.com/example/rickshaw-rides/internal/storage"
)

// Service exposes the read-only admin aggregations. No caching; every call
// reads the ledger as it stands.
type Service struct {
	Store storage.Store
}

type Analytics struct {
	TopDestinations []storage.DestinationCount `json:"top_destinations"`
	TopRickshaws    []storage.RickshawStanding `json:"top_rickshaws"`
}

func (s *Service) Dashboard(ctx context.Context) (storage.DashboardStats, error) {
	return s.Store.DashboardStats(ctx, time.Now())
}

func (s *Service) Analytics(ctx context.Context) (Analytics, error) {
	dests, err := s.Store.TopDestinations(ctx, 5)
	if err != nil {
		return Analytics{}, err
	}
	ricks, err := s.Store.TopRickshaws(ctx, 10)
	if err != nil {
		return Analytics{}, err
	}
	return Analytics{TopDestinations: dests, TopRickshaws: ricks}, nil
}
