package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// archiveScript moves one message id from the active set to the archive and
// drops it from the recipient's inbox and sender's outbox, all atomically.
// Returns 1 on success, 0 if the id was archived before, -1 if it never existed.
var archiveScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 0 then
	if redis.call('ZSCORE', KEYS[2], ARGV[1]) then
		return 0
	end
	return -1
end
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[1])
local recipient = redis.call('HGET', KEYS[3], 'recipient_id')
local sender = redis.call('HGET', KEYS[3], 'sender_id')
if recipient then
	redis.call('ZREM', ARGV[2] .. recipient, ARGV[1])
end
if sender then
	redis.call('ZREM', ARGV[3] .. sender, ARGV[1])
end
return 1
`)

// Client is a Redis-backed Board. All keys and channels are namespaced with
// the instance name. The client is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
	now          func() time.Time
}

// NewClient creates a new board client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: board instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		now:          time.Now,
	}, nil
}

// Redis exposes the underlying connection so other instance-scoped stores
// (agent snapshots) can share it.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// InstanceName returns the namespace this client operates in.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Post validates m, assigns the next id from the instance counter and writes
// the message and its index entries in one MULTI/EXEC transaction.
// Publishes the message JSON to taskboard:{instance}:message_events afterwards;
// a failed publish is logged and does not fail the post.
func (c *Client) Post(ctx context.Context, m *Message) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, fmt.Errorf("invalid message: %w", err)
	}

	id, err := c.rdb.Incr(ctx, MessageSeqKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate message id: %w", err)
	}
	m.ID = id
	m.PostedAtMs = c.now().UnixMilli()

	hash, err := MessageToHash(m)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize message: %w", err)
	}

	member := redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10)}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, MessageKey(c.instanceName, id), hash)
		pipe.ZAdd(ctx, ActiveKey(c.instanceName), member)
		pipe.ZAdd(ctx, InboxKey(c.instanceName, m.RecipientID), member)
		pipe.ZAdd(ctx, OutboxKey(c.instanceName, m.SenderID), member)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write message to Redis: %w", err)
	}

	// The message is committed; a lost event only delays subscribers
	payload, err := json.Marshal(m)
	if err != nil {
		log.Printf("[Board] Failed to marshal event for message %d: %v", id, err)
		return id, nil
	}
	if err := c.rdb.Publish(ctx, MessageEventsChannel(c.instanceName), payload).Err(); err != nil {
		log.Printf("[Board] Failed to publish event for message %d: %v", id, err)
	}

	return id, nil
}

// Get returns an active message by id.
func (c *Client) Get(ctx context.Context, id int64) (*Message, error) {
	return c.getIn(ctx, ActiveKey(c.instanceName), id)
}

// Archived returns an archived message by id.
func (c *Client) Archived(ctx context.Context, id int64) (*Message, error) {
	return c.getIn(ctx, ArchivedKey(c.instanceName), id)
}

// MessagesFor returns active messages addressed to agentID in post order.
func (c *Client) MessagesFor(ctx context.Context, agentID string) ([]*Message, error) {
	return c.messagesIn(ctx, InboxKey(c.instanceName, agentID))
}

// MessagesFrom returns active messages posted by agentID in post order.
func (c *Client) MessagesFrom(ctx context.Context, agentID string) ([]*Message, error) {
	return c.messagesIn(ctx, OutboxKey(c.instanceName, agentID))
}

// Active returns every active message in post order.
func (c *Client) Active(ctx context.Context) ([]*Message, error) {
	return c.messagesIn(ctx, ActiveKey(c.instanceName))
}

// PendingRecipients returns the distinct recipients of active messages.
func (c *Client) PendingRecipients(ctx context.Context) ([]string, error) {
	msgs, err := c.Active(ctx)
	if err != nil {
		return nil, err
	}
	return recipientsInOrder(msgs), nil
}

// Archive atomically moves a message from the active set to the archive.
func (c *Client) Archive(ctx context.Context, id int64) error {
	keys := []string{
		ActiveKey(c.instanceName),
		ArchivedKey(c.instanceName),
		MessageKey(c.instanceName, id),
	}
	res, err := archiveScript.Run(ctx, c.rdb, keys,
		strconv.FormatInt(id, 10),
		inboxPrefix(c.instanceName),
		outboxPrefix(c.instanceName),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to archive message %d: %w", id, err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("message %d: %w", id, ErrAlreadyArchived)
	default:
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
}

func (c *Client) getIn(ctx context.Context, setKey string, id int64) (*Message, error) {
	// Membership decides visibility; the hash outlives the move to the archive.
	_, err := c.rdb.ZScore(ctx, setKey, strconv.FormatInt(id, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check message %d: %w", id, err)
	}

	hashData, err := c.rdb.HGetAll(ctx, MessageKey(c.instanceName, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}

	m, err := HashToMessage(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}
	return m, nil
}

// messagesIn loads every message whose id is a member of setKey, ordered by id.
func (c *Client) messagesIn(ctx context.Context, setKey string) ([]*Message, error) {
	ids, err := c.rdb.ZRange(ctx, setKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, raw := range ids {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q in %s: %w", raw, setKey, err)
			}
			cmds[i] = pipe.HGetAll(ctx, MessageKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages from Redis: %w", err)
	}

	msgs := make([]*Message, 0, len(ids))
	for _, cmd := range cmds {
		hashData := cmd.Val()
		if len(hashData) == 0 {
			// Index entry without a hash; skip rather than fail the whole listing
			continue
		}
		m, err := HashToMessage(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize message: %w", err)
		}
		msgs = append(msgs, m)
	}
	sortByID(msgs)
	return msgs, nil
}

// Subscription represents an active Pub/Sub subscription to message events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Message
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of posted messages.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Message {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeMessages subscribes to message post events for this instance.
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once, so subscribers must treat events as wake-up hints and read
// the board itself for state.
func (c *Client) SubscribeMessages(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, MessageEventsChannel(c.instanceName))

	// Wait for the subscription to be confirmed so no event posted after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to message events: %w", err)
	}

	eventsChan := make(chan *Message, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal message event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &m:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
