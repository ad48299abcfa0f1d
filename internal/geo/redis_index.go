package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/rickshaw-rides/internal/models"
)

// RedisIndex implements LocationIndex on top of Redis GEO commands so the
// live position set is shared between the API process and the consumer.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(id string, loc models.Coord) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: id}).Result()
	_ = r.client.HSet(r.ctx, metaKey(id), map[string]interface{}{"updated": time.Now().Format(time.RFC3339)}).Err()
}

func (r *RedisIndex) Lookup(id string) (models.Coord, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, id).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: pos[0].Latitude, Lng: pos[0].Longitude}, true
}

func metaKey(id string) string { return "rickshaw:meta:" + id }
