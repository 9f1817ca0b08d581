package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	permissionGranted = "granted"
	permissionDenied  = "denied"
)

// claimDueScript pops due alerts from the pending set and the alert hash in
// one step, so a concurrent reschedule can never be half-consumed and an
// alert is handed out at most once.
var claimDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', ARGV[2])
local out = {}
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local alert = redis.call('HGET', KEYS[2], id)
	redis.call('HDEL', KEYS[2], id)
	if alert then
		table.insert(out, alert)
	end
end
return out
`)

// RedisScheduler stores pending alerts in Redis: a sorted set of task ids
// scored by fire time (unix ms) and a hash of the alert bodies.
type RedisScheduler struct {
	client *redis.Client
	prefix string
	grant  bool
}

func NewRedisScheduler(client *redis.Client, prefix string, grant bool) *RedisScheduler {
	if prefix == "" {
		prefix = "reminders"
	}
	return &RedisScheduler{
		client: client,
		prefix: prefix,
		grant:  grant,
	}
}

func (s *RedisScheduler) pendingKey() string    { return s.prefix + ":pending" }
func (s *RedisScheduler) alertsKey() string     { return s.prefix + ":alerts" }
func (s *RedisScheduler) permissionKey() string { return s.prefix + ":permission" }

// RequestPermission records the user's decision so the dispatcher can see it.
func (s *RedisScheduler) RequestPermission(ctx context.Context) (bool, error) {
	value := permissionDenied
	if s.grant {
		value = permissionGranted
	}
	if err := s.client.Set(ctx, s.permissionKey(), value, 0).Err(); err != nil {
		return false, fmt.Errorf("failed to record notification permission: %w", err)
	}
	return s.grant, nil
}

// Permission reports whether delivery is authorized. Never asked means no.
func (s *RedisScheduler) Permission(ctx context.Context) (bool, error) {
	value, err := s.client.Get(ctx, s.permissionKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return value == permissionGranted, nil
}

func (s *RedisScheduler) ScheduleAlert(ctx context.Context, key string, fireAt time.Time, title, body string) (bool, error) {
	alert := Alert{
		Key:         key,
		FireAt:      fireAt.UTC(),
		Title:       title,
		Body:        body,
		ScheduledAt: time.Now().UTC(),
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.pendingKey(), key)
		pipe.HDel(ctx, s.alertsKey(), key)
		pipe.HSet(ctx, s.alertsKey(), key, data)
		pipe.ZAdd(ctx, s.pendingKey(), redis.Z{
			Score:  float64(fireAt.UnixMilli()),
			Member: key,
		})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to schedule alert %s: %w", key, err)
	}

	return true, nil
}

func (s *RedisScheduler) CancelAlert(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.pendingKey(), key)
		pipe.HDel(ctx, s.alertsKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel alert %s: %w", key, err)
	}
	return nil
}

func (s *RedisScheduler) Pending(ctx context.Context, key string) (Alert, bool, error) {
	var alert Alert

	data, err := s.client.HGet(ctx, s.alertsKey(), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return alert, false, nil
		}
		return alert, false, err
	}

	if err := json.Unmarshal(data, &alert); err != nil {
		return alert, false, fmt.Errorf("corrupt alert %s: %w", key, err)
	}
	return alert, true, nil
}

func (s *RedisScheduler) PendingCount(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.pendingKey()).Result()
}

// ClaimDue removes and returns up to limit alerts whose fire time is at or
// before now, earliest first.
func (s *RedisScheduler) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Alert, error) {
	raw, err := claimDueScript.Run(ctx, s.client,
		[]string{s.pendingKey(), s.alertsKey()},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim due alerts: %w", err)
	}

	alerts := make([]Alert, 0, len(raw))
	for _, item := range raw {
		var alert Alert
		if err := json.Unmarshal([]byte(item), &alert); err != nil {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
