package redeemer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// DeadLetterKeyFmt is the Redis list holding rejected redemptions of one
// network and variant.
const DeadLetterKeyFmt = "redeemer:dlq:%s:%s"

// DeadLetter is a redemption the chain refused before sending.
type DeadLetter struct {
	Variant    voucher.Variant `json:"variant"`
	Payer      string          `json:"payer"`
	Collection string          `json:"collection"`
	Allocation string          `json:"allocation"`
	Value      string          `json:"value_aggregate"`
	Reason     string          `json:"reason"`
	At         time.Time       `json:"at"`
}

// DeadLetters records redemptions that must not be retried automatically.
type DeadLetters interface {
	Push(ctx context.Context, d DeadLetter) error
}

// RedisDeadLetters appends dead letters to a Redis list.
type RedisDeadLetters struct {
	rdb *redis.Client
	key string
}

func NewRedisDeadLetters(rdb *redis.Client, network string, v voucher.Variant) *RedisDeadLetters {
	return &RedisDeadLetters{rdb: rdb, key: fmt.Sprintf(DeadLetterKeyFmt, network, v)}
}

func (q *RedisDeadLetters) Push(ctx context.Context, d DeadLetter) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return q.rdb.RPush(ctx, q.key, string(raw)).Err()
}

// List returns up to n of the oldest dead letters.
func (q *RedisDeadLetters) List(ctx context.Context, n int64) ([]DeadLetter, error) {
	raws, err := q.rdb.LRange(ctx, q.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var d DeadLetter
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("unmarshal dead letter: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
