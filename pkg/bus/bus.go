package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/cache"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/metrics"
	"github.com/coscribe/coscribe/pkg/types"
)

// Handler receives every envelope delivered on a subscribed topic,
// including envelopes this instance published itself. Originator
// suppression happens at the gateway on local fan-out, not here.
type Handler func(documentID string, env *types.Envelope)

// Bus fans document traffic out across server instances, one topic per
// document. Delivery is at-least-once to live subscribers with no
// persistence; ordering within a topic is best effort and never relied
// upon (the CRDT layer is commutative).
type Bus struct {
	store  *cache.Store
	logger zerolog.Logger
}

// New creates a bus on the shared cache store.
func New(store *cache.Store) *Bus {
	return &Bus{store: store, logger: log.WithComponent("bus")}
}

// Publish sends an envelope on the document's topic.
func (b *Bus) Publish(ctx context.Context, documentID string, env *types.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	cctx, cancel := b.store.Context(ctx)
	defer cancel()
	if err := b.store.Client().Publish(cctx, cache.TopicKey(documentID), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", cache.TopicKey(documentID), err)
	}

	metrics.BusPublishTotal.WithLabelValues(string(env.Type)).Inc()
	return nil
}

// Subscription is an explicit handle on one topic subscription, owned by
// the subscriber. Closing it stops delivery and releases the underlying
// channel subscription.
type Subscription struct {
	documentID string
	closeOnce  sync.Once
	closeFn    func() error
	done       chan struct{}
}

// DocumentID returns the document this subscription covers.
func (s *Subscription) DocumentID() string {
	return s.documentID
}

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.closeFn()
		<-s.done
		metrics.TopicsSubscribed.Dec()
	})
	return err
}

// Subscribe attaches handler to the document's topic. Delivery runs on a
// dedicated goroutine per subscription; the handler must hand off quickly.
func (b *Bus) Subscribe(ctx context.Context, documentID string, handler Handler) (*Subscription, error) {
	pubsub := b.store.Client().Subscribe(ctx, cache.TopicKey(documentID))

	// Force the SUBSCRIBE round trip so a dead store surfaces here rather
	// than as silent non-delivery.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cache.TopicKey(documentID), err)
	}

	sub := &Subscription{
		documentID: documentID,
		closeFn:    pubsub.Close,
		done:       make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			var env types.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).
					Str("document_id", documentID).
					Msg("dropping undecodable envelope")
				continue
			}
			handler(documentID, &env)
		}
	}()

	metrics.TopicsSubscribed.Inc()
	return sub, nil
}
