package relay

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notehub/internal/event"
	"notehub/internal/logging"
)

const channelPrefix = "notehub:"

// envelope is the cross-instance wire form of a published event. Instance
// lets a subscriber drop its own publications instead of echoing them.
type envelope struct {
	Instance string `json:"instance"`
	NoteID   string `json:"noteId"`
	Exclude  string `json:"exclude,omitempty"`
	Kind     string `json:"kind"`
	Payload  []byte `json:"payload"`
}

// RedisBridge extends a local relay across server instances: every published
// event also goes to the note's Redis channel, and a subscriber goroutine
// re-delivers events published by other instances to local room members.
type RedisBridge struct {
	local    *Relay
	rdb      *redis.Client
	instance string
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	log      *zap.SugaredLogger
}

// NewRedisBridge starts the subscriber and returns the bridge.
func NewRedisBridge(ctx context.Context, local *Relay, rdb *redis.Client) *RedisBridge {
	ctx, cancel := context.WithCancel(ctx)
	b := &RedisBridge{
		local:    local,
		rdb:      rdb,
		instance: uuid.NewString(),
		pubsub:   rdb.PSubscribe(ctx, channelPrefix+"*"),
		cancel:   cancel,
		log:      logging.For("relay.redis"),
	}
	go b.run(ctx)
	return b
}

// Publish delivers locally and forwards to peers over Redis. A Redis fault
// is logged and does not affect local delivery or the caller.
func (b *RedisBridge) Publish(noteID string, ev event.Event, excludeID string) {
	b.local.Publish(noteID, ev, excludeID)

	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Errorw("encoding event for redis", "note", noteID, "error", err)
		return
	}
	env, err := json.Marshal(envelope{
		Instance: b.instance,
		NoteID:   noteID,
		Exclude:  excludeID,
		Kind:     ev.Kind(),
		Payload:  payload,
	})
	if err != nil {
		b.log.Errorw("encoding envelope for redis", "note", noteID, "error", err)
		return
	}
	if err := b.rdb.Publish(context.Background(), channelPrefix+noteID, env).Err(); err != nil {
		b.log.Warnw("publishing to redis", "note", noteID, "error", err)
	}
}

func (b *RedisBridge) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.pubsub.Channel():
			if !ok {
				return
			}
			b.deliver(msg)
		}
	}
}

func (b *RedisBridge) deliver(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.Warnw("decoding redis envelope", "channel", msg.Channel, "error", err)
		return
	}
	if env.Instance == b.instance {
		return
	}
	if env.NoteID == "" {
		env.NoteID = strings.TrimPrefix(msg.Channel, channelPrefix)
	}
	ev, err := event.Decode(env.Payload)
	if err != nil {
		b.log.Warnw("decoding relayed event", "note", env.NoteID, "error", err)
		return
	}
	b.local.Publish(env.NoteID, ev, env.Exclude)
}

// Close stops the subscriber.
func (b *RedisBridge) Close() error {
	b.cancel()
	return b.pubsub.Close()
}
