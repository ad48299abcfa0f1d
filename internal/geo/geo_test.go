package geo

import (
	"testing"

	"github.com/example/rickshaw-rides/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	campus := models.Coord{Lat: 22.4633, Lng: 91.9714}
	pahartoli := models.Coord{Lat: 22.4725, Lng: 91.9845}
	ab := DistanceMeters(campus, pahartoli)
	ba := DistanceMeters(pahartoli, campus)
	if ab != ba {
		t.Fatalf("distance not symmetric: %f vs %f", ab, ba)
	}
	if ab < 1000 || ab > 3000 {
		t.Fatalf("campus->pahartoli distance implausible: %f m", ab)
	}
	if DistanceMeters(campus, campus) != 0 {
		t.Fatal("coincident points must be 0 m apart")
	}
}

func TestScoreForDistance(t *testing.T) {
	cases := []struct {
		d    float64
		want int
	}{
		{0, 10},
		{-1, 10},
		{5, 10},
		{10, 9},
		{19.9, 9},
		{30, 8},
		{50, 8}, // floor of the decay band
		{50.1, 5},
		{75, 5},
		{100, 5}, // inclusive upper bound of the reduced band
		{100.1, 0},
		{150, 0},
	}
	for _, c := range cases {
		if got := ScoreForDistance(c.d); got != c.want {
			t.Errorf("ScoreForDistance(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}
