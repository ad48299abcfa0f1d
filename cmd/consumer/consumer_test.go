package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/rickshaw-rides/internal/ingest"
	"github.com/example/rickshaw-rides/internal/models"
	"github.com/redis/go-redis/v9"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastGeo  string
	lastMeta string
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	f.lastGeo = key
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	f.lastMeta = key
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func testUpdate() *ingest.LocationUpdate {
	return &ingest.LocationUpdate{
		RickshawID: "RICK001",
		Loc:        models.Coord{Lat: 22.4633, Lng: 91.9714},
		Online:     true,
		ReportedAt: time.Now(),
	}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, "rickshaws_geo", testUpdate(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastGeo != "rickshaws_geo" {
		t.Fatalf("geo key = %q", f.lastGeo)
	}
	if f.lastMeta != "rickshaw:meta:RICK001" {
		t.Fatalf("meta key = %q", f.lastMeta)
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, "rickshaws_geo", testUpdate(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
