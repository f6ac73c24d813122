package eventcore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// hsetPreviousStatusLua atomically writes fields and refreshes the key's
// TTL, returning whatever "status" field held beforehand. This backs the
// bgtask terminal-state invariant check: a caller can tell whether it
// just raced another writer to the terminal transition.
const hsetPreviousStatusLua = `
local prev = redis.call('HGET', KEYS[1], 'status')
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('EXPIRE', KEYS[1], ARGV[1])
if prev then return prev else return '' end
`

// DefaultMaxStreamLen bounds every stream with an approximate MAXLEN so
// history never grows unbounded, matching the original source's
// _DEFAULT_QUEUE_MAX_LEN.
const DefaultMaxStreamLen = 128

// StreamStore is the thin wire layer over Redis Streams that the rest of
// the package builds on: append, group-based read/ack/claim, tail-read
// for broadcast, and the small KV surface BgtaskManager needs.
type StreamStore interface {
	Append(ctx context.Context, stream string, msg WireMessage) (string, error)
	CreateGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int64) ([]WireMessage, error)
	ReadTail(ctx context.Context, stream, lastID string, block time.Duration, count int64) ([]WireMessage, string, error)
	Ack(ctx context.Context, stream, group, id string) error
	Autoclaim(ctx context.Context, stream, group, consumer, start string, minIdle time.Duration, count int64) ([]WireMessage, string, error)
	GroupInfo(ctx context.Context, stream string) ([]redis.XInfoGroup, error)
	ConsumerInfo(ctx context.Context, stream, group string) ([]redis.XInfoConsumer, error)
	DestroyGroup(ctx context.Context, stream, group string) error
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetPreviousStatus(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (string, error)
}

type redisStreamStore struct {
	client  redis.UniversalClient
	maxLen  int64
	scripts *ScriptRegistry

	loadOnce sync.Once
	loadErr  error
}

// NewStreamStore wraps a go-redis client with the StreamStore surface.
func NewStreamStore(client redis.UniversalClient) StreamStore {
	return &redisStreamStore{client: client, maxLen: DefaultMaxStreamLen, scripts: NewScriptRegistry(client)}
}

func (s *redisStreamStore) Append(ctx context.Context, stream string, msg WireMessage) (string, error) {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: msg.toValues(),
	}).Result()
}

func (s *redisStreamStore) CreateGroup(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

func (s *redisStreamStore) ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int64) ([]WireMessage, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if isNoGroup(err) {
			if cErr := s.CreateGroup(ctx, stream, group); cErr != nil {
				return nil, cErr
			}
			return nil, nil
		}
		return nil, err
	}
	var out []WireMessage
	for _, st := range res {
		for _, m := range st.Messages {
			out = append(out, wireMessageFromValues(m.ID, m.Values))
		}
	}
	return out, nil
}

func (s *redisStreamStore) ReadTail(ctx context.Context, stream, lastID string, block time.Duration, count int64) ([]WireMessage, string, error) {
	if lastID == "" {
		lastID = "$"
	}
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, lastID, nil
	}
	if err != nil {
		return nil, "$", err
	}
	var out []WireMessage
	next := lastID
	for _, st := range res {
		for _, m := range st.Messages {
			out = append(out, wireMessageFromValues(m.ID, m.Values))
			next = m.ID
		}
	}
	return out, next, nil
}

func (s *redisStreamStore) Ack(ctx context.Context, stream, group, id string) error {
	return s.client.XAck(ctx, stream, group, id).Err()
}

func (s *redisStreamStore) Autoclaim(ctx context.Context, stream, group, consumer, start string, minIdle time.Duration, count int64) ([]WireMessage, string, error) {
	if start == "" {
		start = "0-0"
	}
	ids, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		if isNoGroup(err) {
			return nil, "0-0", nil
		}
		return nil, "0-0", err
	}
	var out []WireMessage
	for _, m := range ids {
		out = append(out, wireMessageFromValues(m.ID, m.Values))
	}
	return out, next, nil
}

func (s *redisStreamStore) GroupInfo(ctx context.Context, stream string) ([]redis.XInfoGroup, error) {
	return s.client.XInfoGroups(ctx, stream).Result()
}

func (s *redisStreamStore) ConsumerInfo(ctx context.Context, stream, group string) ([]redis.XInfoConsumer, error) {
	return s.client.XInfoConsumers(ctx, stream, group).Result()
}

func (s *redisStreamStore) DestroyGroup(ctx context.Context, stream, group string) error {
	return s.client.XGroupDestroy(ctx, stream, group).Err()
}

func (s *redisStreamStore) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	mapping := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		mapping[k] = v
	}
	pipe.HSet(ctx, key, mapping)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStreamStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *redisStreamStore) ensureScripts(ctx context.Context) error {
	s.loadOnce.Do(func() {
		s.loadErr = s.scripts.Load(ctx, map[string]ScriptDef{
			"hset_previous_status": {Script: hsetPreviousStatusLua, Keys: map[string]int{"record": 1}},
		})
	})
	return s.loadErr
}

func (s *redisStreamStore) HSetPreviousStatus(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (string, error) {
	if err := s.ensureScripts(ctx); err != nil {
		return "", err
	}
	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, int64(ttl.Seconds()))
	for k, v := range fields {
		args = append(args, k, v)
	}
	res, err := s.scripts.Run(ctx, "hset_previous_status", map[string]string{"record": key}, args...)
	if err != nil {
		return "", err
	}
	prev, _ := res.(string)
	return prev, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func isNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}
