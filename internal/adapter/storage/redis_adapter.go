package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

const stockKeyPrefix = "stock:"

// tryDebitScript checks and decrements in one script execution, which Redis
// runs atomically. Returns {1, newQuantity} on success, {0, available} when
// the stock cannot cover the amount.
var tryDebitScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])

local current = tonumber(redis.call('GET', key) or '0')
if current >= amount then
	local remaining = redis.call('DECRBY', key, amount)
	return {1, remaining}
end

return {0, current}
`)

// adjustScript applies a signed delta with the no-negative rule. An
// administrative override clamps at zero instead of failing.
var adjustScript = redis.NewScript(`
local key = KEYS[1]
local delta = tonumber(ARGV[1])
local override = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
local next = current + delta
if next < 0 then
	if override == 1 then
		next = 0
	else
		return {-1, current}
	end
end

redis.call('SET', key, next)
return {1, next}
`)

// RedisLedger is the hot-path inventory ledger: every stock key is a counter
// mutated only through scripts, so concurrent debits serialize inside Redis.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func stockKey(key domain.StockKey) string {
	return stockKeyPrefix + key.String()
}

func (r *RedisLedger) TryDebit(ctx context.Context, key domain.StockKey, amount int) (domain.DebitResult, error) {
	res, err := tryDebitScript.Run(ctx, r.client, []string{stockKey(key)}, amount).Int64Slice()
	if err != nil {
		return domain.DebitResult{}, storageErr("debit stock", err)
	}
	return domain.DebitResult{Debited: res[0] == 1, Quantity: int(res[1])}, nil
}

func (r *RedisLedger) Credit(ctx context.Context, key domain.StockKey, amount int) (int, error) {
	qty, err := r.client.IncrBy(ctx, stockKey(key), int64(amount)).Result()
	if err != nil {
		return 0, storageErr("credit stock", err)
	}
	return int(qty), nil
}

func (r *RedisLedger) Adjust(ctx context.Context, key domain.StockKey, delta int, reason domain.AdjustReason) (int, error) {
	override := 0
	if reason.AdministrativeOverride() {
		override = 1
	}
	res, err := adjustScript.Run(ctx, r.client, []string{stockKey(key)}, delta, override).Int64Slice()
	if err != nil {
		return 0, storageErr("adjust stock", err)
	}
	if res[0] == -1 {
		return int(res[1]), domain.ErrInvalidAdjustment
	}
	return int(res[1]), nil
}

func (r *RedisLedger) Query(ctx context.Context, key domain.StockKey) (int, error) {
	qty, err := r.client.Get(ctx, stockKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("query stock", err)
	}
	return qty, nil
}

// SetStock overwrites a key's quantity; used to seed stock at startup and in
// the stress harness.
func (r *RedisLedger) SetStock(ctx context.Context, key domain.StockKey, quantity int) error {
	if err := r.client.Set(ctx, stockKey(key), quantity, 0).Err(); err != nil {
		return storageErr("set stock", err)
	}
	return nil
}
