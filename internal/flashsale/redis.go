package flashsale

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const (
	reserveOK        = 1
	reserveSoldOut   = 0
	reserveUserLimit = 2
)

// KEYS[1] stock counter, KEYS[2] units per user, KEYS[3] units per order.
// ARGV[1] user, ARGV[2] order, ARGV[3] quantity, ARGV[4] per-user limit.
var reserveScript = redis.NewScript(`
if redis.call('hexists', KEYS[3], ARGV[2]) == 1 then
    return 1
end
local qty = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
if limit > 0 and ARGV[1] ~= '' then
    local used = tonumber(redis.call('hget', KEYS[2], ARGV[1]) or '0')
    if used + qty > limit then
        return 2
    end
end
local stock = tonumber(redis.call('get', KEYS[1]) or '0')
if stock < qty then
    return 0
end
redis.call('decrby', KEYS[1], qty)
if ARGV[1] ~= '' then
    redis.call('hincrby', KEYS[2], ARGV[1], qty)
end
redis.call('hset', KEYS[3], ARGV[2], qty)
return 1
`)

// KEYS as above. ARGV[1] user, ARGV[2] order.
var releaseScript = redis.NewScript(`
local qty = tonumber(redis.call('hget', KEYS[3], ARGV[2]) or '0')
if qty == 0 then
    return 0
end
redis.call('hdel', KEYS[3], ARGV[2])
redis.call('incrby', KEYS[1], qty)
if ARGV[1] ~= '' then
    local left = redis.call('hincrby', KEYS[2], ARGV[1], -qty)
    if left <= 0 then
        redis.call('hdel', KEYS[2], ARGV[1])
    end
end
return qty
`)

// RedisReserver keeps flash-sale counters in Redis. The hash tag in every key
// keeps a product's keys on one cluster slot so the scripts stay atomic.
type RedisReserver struct {
	client redis.UniversalClient
}

var _ Reserver = (*RedisReserver)(nil)

// NewRedisReserver creates a RedisReserver.
func NewRedisReserver(client redis.UniversalClient) *RedisReserver {
	return &RedisReserver{client: client}
}

func keys(productID string) []string {
	return []string{
		fmt.Sprintf("flash:stock:{%s}", productID),
		fmt.Sprintf("flash:users:{%s}", productID),
		fmt.Sprintf("flash:orders:{%s}", productID),
	}
}

func (r *RedisReserver) Prepare(ctx context.Context, productID string, stock int) error {
	k := keys(productID)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, k[0], stock, 0)
	pipe.Del(ctx, k[1], k[2])
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "prepare flash sale for %s", productID)
	}
	return nil
}

func (r *RedisReserver) Reserve(ctx context.Context, res Reservation, perUserLimit int) error {
	if res.Quantity <= 0 {
		return errors.Errorf("invalid flash reservation quantity %d", res.Quantity)
	}
	code, err := reserveScript.Run(ctx, r.client, keys(res.ProductID),
		res.UserID, res.OrderID, res.Quantity, perUserLimit,
	).Int64()
	if err != nil {
		return errors.Wrapf(err, "reserve flash units of %s", res.ProductID)
	}

	switch code {
	case reserveOK:
		return nil
	case reserveSoldOut:
		return soldOut(res.ProductID)
	case reserveUserLimit:
		return userLimit(res.ProductID)
	default:
		return errors.Errorf("unknown reserve result %d", code)
	}
}

func (r *RedisReserver) Release(ctx context.Context, res Reservation) error {
	if err := releaseScript.Run(ctx, r.client, keys(res.ProductID), res.UserID, res.OrderID).Err(); err != nil {
		return errors.Wrapf(err, "release flash units of %s", res.ProductID)
	}
	return nil
}
