package eventcore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	defaultAutoclaimIdleTimeout = 5 * time.Minute
	defaultAutoclaimInterval    = time.Minute
	defaultAutoclaimCount       = 64
	defaultReadBlock            = time.Second
	defaultReadCount            = 1
	defaultMaxDeliveries        = 3
)

// MessageQueueConfig tunes the anycast/broadcast loops of a MessageQueue.
type MessageQueueConfig struct {
	NodeID               string
	AutoclaimIdleTimeout time.Duration
	AutoclaimInterval    time.Duration
	MaxDeliveries        int
	// Grouped, when true, makes the broadcast side use a dedicated
	// consumer group per consumer instead of a bare XREAD FROM $, trading
	// the default at-most-once-while-online semantics for at-least-once
	// delivery across reconnects. See SPEC_FULL.md A.4.
	Grouped bool
}

// DefaultMessageQueueConfig returns sensible defaults.
func DefaultMessageQueueConfig() MessageQueueConfig {
	return MessageQueueConfig{
		AutoclaimIdleTimeout: defaultAutoclaimIdleTimeout,
		AutoclaimInterval:    defaultAutoclaimInterval,
		MaxDeliveries:        defaultMaxDeliveries,
	}
}

// MessageQueue moves WireMessages between processes: Send delivers to
// exactly one consumer among a group (anycast), SendBroadcast delivers to
// every subscriber (broadcast).
type MessageQueue interface {
	Send(ctx context.Context, msg WireMessage) error
	SendBroadcast(ctx context.Context, msg WireMessage) error
	ConsumeQueue() <-chan WireMessage
	SubscribeQueue() <-chan WireMessage
	Done(ctx context.Context, id string) error
	CleanupGhostGroups(ctx context.Context) (int, error)
	Close() error
}

type redisMessageQueue struct {
	store        StreamStore
	logger       *Logger
	anycastKey   string
	groupName    string
	consumerID   string
	broadcastKey string
	cfg          MessageQueueConfig

	consumeCh   chan WireMessage
	subscribeCh chan WireMessage

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMessageQueue starts the anycast read/autoclaim loops and the
// broadcast tail loop, and returns once they are running in the
// background.
func NewMessageQueue(ctx context.Context, store StreamStore, anycastKey, groupName, broadcastKey string, cfg MessageQueueConfig) (MessageQueue, error) {
	if cfg.AutoclaimIdleTimeout == 0 {
		cfg.AutoclaimIdleTimeout = defaultAutoclaimIdleTimeout
	}
	if cfg.AutoclaimInterval == 0 {
		cfg.AutoclaimInterval = defaultAutoclaimInterval
	}
	if cfg.MaxDeliveries == 0 {
		cfg.MaxDeliveries = defaultMaxDeliveries
	}

	q := &redisMessageQueue{
		store:        store,
		logger:       NewLogger("mq"),
		anycastKey:   anycastKey,
		groupName:    groupName,
		consumerID:   deriveConsumerID(cfg.NodeID),
		broadcastKey: broadcastKey,
		cfg:          cfg,
		consumeCh:    make(chan WireMessage, 64),
		subscribeCh:  make(chan WireMessage, 64),
		closed:       make(chan struct{}),
	}

	if err := store.CreateGroup(ctx, anycastKey, groupName); err != nil {
		return nil, fmt.Errorf("create anycast group: %w", err)
	}
	if cfg.Grouped {
		if err := store.CreateGroup(ctx, broadcastKey, "broadcast-"+q.consumerID); err != nil {
			return nil, fmt.Errorf("create broadcast group: %w", err)
		}
	}

	go q.readLoop(ctx)
	go q.autoclaimLoop(ctx)
	if cfg.Grouped {
		go q.groupedBroadcastLoop(ctx)
	} else {
		go q.tailBroadcastLoop(ctx)
	}

	return q, nil
}

// deriveConsumerID builds a per-process identity: sha1(node) + ":" +
// sha1(binary path) + ":" + pid. The last part is the operating-system
// process id, not a worker-slot index, so a restarted process gets a new
// consumer id.
func deriveConsumerID(nodeID string) string {
	if nodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			nodeID = hostname
		}
	}
	nodeHash := sha1.Sum([]byte(nodeID))
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	pathHash := sha1.Sum([]byte(exe))
	return fmt.Sprintf("%s:%s:%d", hex.EncodeToString(nodeHash[:]), hex.EncodeToString(pathHash[:]), os.Getpid())
}

func (q *redisMessageQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *redisMessageQueue) Send(ctx context.Context, msg WireMessage) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	_, err := q.store.Append(ctx, q.anycastKey, msg)
	return err
}

func (q *redisMessageQueue) SendBroadcast(ctx context.Context, msg WireMessage) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	_, err := q.store.Append(ctx, q.broadcastKey, msg)
	return err
}

func (q *redisMessageQueue) ConsumeQueue() <-chan WireMessage   { return q.consumeCh }
func (q *redisMessageQueue) SubscribeQueue() <-chan WireMessage { return q.subscribeCh }

func (q *redisMessageQueue) Done(ctx context.Context, id string) error {
	return q.store.Ack(ctx, q.anycastKey, q.groupName, id)
}

func (q *redisMessageQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

func (q *redisMessageQueue) readLoop(ctx context.Context) {
	for {
		select {
		case <-q.closed:
			return
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := q.store.ReadGroup(ctx, q.anycastKey, q.groupName, q.consumerID, defaultReadBlock, defaultReadCount)
		if err != nil {
			q.logger.Error("read anycast messages", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			select {
			case q.consumeCh <- m:
			case <-q.closed:
				return
			}
		}
	}
}

func (q *redisMessageQueue) autoclaimLoop(ctx context.Context) {
	start := "0-0"
	for {
		select {
		case <-q.closed:
			return
		case <-ctx.Done():
			return
		default:
		}
		claimed, next, err := q.store.Autoclaim(ctx, q.anycastKey, q.groupName, q.consumerID, start, q.cfg.AutoclaimIdleTimeout, defaultAutoclaimCount)
		if err != nil {
			q.logger.Error("autoclaim", "error", err)
			time.Sleep(q.cfg.AutoclaimInterval)
			continue
		}
		if len(claimed) == 0 {
			time.Sleep(q.cfg.AutoclaimInterval)
			continue
		}
		start = next
		for _, m := range claimed {
			if m.RetryCount >= q.cfg.MaxDeliveries {
				q.logger.Warn("dropping message after max retries", "id", m.ID, "retries", m.RetryCount)
				q.store.Ack(ctx, q.anycastKey, q.groupName, m.ID)
				continue
			}
			retried := m.withIncrementedRetry()
			if _, err := q.store.Append(ctx, q.anycastKey, retried); err != nil {
				q.logger.Error("republish claimed message", "error", err)
				continue
			}
			q.store.Ack(ctx, q.anycastKey, q.groupName, m.ID)
		}
	}
}

func (q *redisMessageQueue) tailBroadcastLoop(ctx context.Context) {
	lastID := "$"
	for {
		select {
		case <-q.closed:
			return
		case <-ctx.Done():
			return
		default:
		}
		msgs, next, err := q.store.ReadTail(ctx, q.broadcastKey, lastID, defaultReadBlock, defaultReadCount)
		if err != nil {
			q.logger.Error("read broadcast messages", "error", err)
			lastID = "$"
			time.Sleep(time.Second)
			continue
		}
		lastID = next
		for _, m := range msgs {
			select {
			case q.subscribeCh <- m:
			case <-q.closed:
				return
			}
		}
	}
}

func (q *redisMessageQueue) groupedBroadcastLoop(ctx context.Context) {
	group := "broadcast-" + q.consumerID
	for {
		select {
		case <-q.closed:
			return
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := q.store.ReadGroup(ctx, q.broadcastKey, group, q.consumerID, defaultReadBlock, defaultReadCount)
		if err != nil {
			q.logger.Error("read grouped broadcast messages", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			select {
			case q.subscribeCh <- m:
				q.store.Ack(ctx, q.broadcastKey, group, m.ID)
			case <-q.closed:
				return
			}
		}
	}
}

// CleanupGhostGroups deletes broadcast consumer groups whose members have
// all gone idle past the threshold. Only meaningful when the queue was
// built with MessageQueueConfig.Grouped.
func (q *redisMessageQueue) CleanupGhostGroups(ctx context.Context) (int, error) {
	groups, err := q.store.GroupInfo(ctx, q.broadcastKey)
	if err != nil {
		return 0, err
	}
	ownGroup := "broadcast-" + q.consumerID
	idleThreshold := q.cfg.AutoclaimIdleTimeout * 12
	deleted := 0
	for _, g := range groups {
		if g.Name == ownGroup {
			continue
		}
		consumers, err := q.store.ConsumerInfo(ctx, q.broadcastKey, g.Name)
		if err != nil {
			continue
		}
		allGhosts := true
		for _, c := range consumers {
			if c.Idle < idleThreshold {
				allGhosts = false
				break
			}
		}
		if !allGhosts {
			continue
		}
		if err := q.store.DestroyGroup(ctx, q.broadcastKey, g.Name); err == nil {
			q.logger.Info("deleted stale broadcast group", "group", g.Name)
			deleted++
		}
	}
	return deleted, nil
}
