package hub

import (
	"context"
	"encoding/json"

	"github.com/converse-chat/converse/internal/bus"
	"github.com/converse-chat/converse/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bridge connects the in-process bus to redis pub/sub so events reach
// clients attached to other daemon instances. Outbound: every local bus
// event is published to its redis channel, stamped with this instance's id.
// Inbound: remote events are handed straight to the hub for local routing,
// never re-published, so nothing loops.
type Bridge struct {
	rdb      *redis.Client
	bus      *bus.Bus
	hub      *Hub
	logger   *zap.Logger
	instance string
	cancel   context.CancelFunc
	done     chan struct{}
}

// remoteEnvelope is the redis wire form of a bus event.
type remoteEnvelope struct {
	Origin  string           `json:"origin"`
	Kind    domain.EventKind `json:"kind"`
	At      int64            `json:"at"`
	Payload any              `json:"payload,omitempty"`
}

func NewBridge(rdb *redis.Client, b *bus.Bus, h *Hub, logger *zap.Logger) *Bridge {
	return &Bridge{
		rdb:      rdb,
		bus:      b,
		hub:      h,
		logger:   logger,
		instance: uuid.NewString(),
	}
}

// Start begins relaying events in both directions.
func (br *Bridge) Start(ctx context.Context) {
	ctx, br.cancel = context.WithCancel(ctx)
	br.done = make(chan struct{})

	convCh, unsubConv := br.bus.Subscribe("conversation:", 256)
	userCh, unsubUser := br.bus.Subscribe("user:", 256)
	pubsub := br.rdb.PSubscribe(ctx, "conversation:*", "user:*")
	remote := pubsub.Channel()

	go func() {
		defer close(br.done)
		defer unsubConv()
		defer unsubUser()
		defer func() { _ = pubsub.Close() }()

		for {
			select {
			case evt := <-convCh:
				br.publish(ctx, evt)
			case evt := <-userCh:
				br.publish(ctx, evt)
			case msg, ok := <-remote:
				if !ok {
					return
				}
				br.receive(msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the relay loop.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
		<-br.done
	}
}

func (br *Bridge) publish(ctx context.Context, evt domain.Event) {
	payload, err := json.Marshal(remoteEnvelope{
		Origin:  br.instance,
		Kind:    evt.Kind,
		At:      evt.At,
		Payload: evt.Payload,
	})
	if err != nil {
		br.logger.Warn("failed to marshal bridge event", zap.Error(err))
		return
	}
	if err := br.rdb.Publish(ctx, evt.Topic, payload).Err(); err != nil {
		br.logger.Warn("failed to publish bridge event", zap.Error(err), zap.String("topic", evt.Topic))
	}
}

func (br *Bridge) receive(msg *redis.Message) {
	var env remoteEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		br.logger.Warn("failed to decode bridge event", zap.Error(err))
		return
	}
	if env.Origin == br.instance {
		return // our own publication reflected back
	}
	br.hub.Deliver(domain.Event{
		Topic:   msg.Channel,
		Kind:    env.Kind,
		At:      env.At,
		Payload: env.Payload,
	})
}
