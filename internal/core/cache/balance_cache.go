package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Nzyazin/walletledger/internal/core/models"
)

// BalanceCache holds confirmed wallet balances for read paths. It is never
// consulted before a withdrawal decision.
type BalanceCache interface {
	Get(ctx context.Context, owner models.Owner, name string) (int64, bool, error)
	// Put stores w's balance unless a newer revision of the same wallet name
	// is already cached. A deleted wallet is stored as a tombstone that reads
	// as a miss.
	Put(ctx context.Context, w *models.Wallet) error
}

// putScript keeps the entry with the highest revision. Revisions are wallet
// UpdatedAt stamps in microseconds, which stay exact as Lua numbers.
var putScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'rev')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'rev', ARGV[1], 'balance', ARGV[2], 'deleted', ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl}
}

func Key(owner models.Owner, name string) string {
	return fmt.Sprintf("wallet:balance:%s:%s:%s", owner.OwnerType(), owner.OwnerID(), name)
}

func (c *RedisBalanceCache) Get(ctx context.Context, owner models.Owner, name string) (int64, bool, error) {
	fields, err := c.client.HGetAll(ctx, Key(owner, name)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("get cached balance: %w", err)
	}
	if len(fields) == 0 || fields["deleted"] == "1" {
		return 0, false, nil
	}
	raw := fields["balance"]
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode cached balance %q: %w", raw, err)
	}
	return balance, true, nil
}

func (c *RedisBalanceCache) Put(ctx context.Context, w *models.Wallet) error {
	deleted := "0"
	if w.DeletedAt != nil {
		deleted = "1"
	}
	err := putScript.Run(ctx, c.client, []string{Key(w.Owner(), w.Name)},
		strconv.FormatInt(w.UpdatedAt.UnixMicro(), 10),
		strconv.FormatInt(w.Balance, 10),
		deleted,
		strconv.FormatInt(c.ttl.Milliseconds(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("put cached balance: %w", err)
	}
	return nil
}
