package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/auth"
	"github.com/coscribe/coscribe/pkg/bus"
	"github.com/coscribe/coscribe/pkg/events"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/metrics"
	"github.com/coscribe/coscribe/pkg/presence"
	"github.com/coscribe/coscribe/pkg/ratelimit"
	"github.com/coscribe/coscribe/pkg/types"
)

// Config holds gateway configuration.
type Config struct {
	StaleSweepInterval time.Duration
	LimiterGCInterval  time.Duration
}

// Hub accepts websocket connections, authenticates them, routes inbound
// frames and relays bus traffic to local sockets.
type Hub struct {
	verifier *auth.Verifier
	registry *presence.Registry
	bus      *bus.Bus
	limiter  *ratelimit.Limiter
	broker   *events.Broker
	cfg      Config

	upgrader websocket.Upgrader
	logger   zerolog.Logger

	// mu guards the local delivery state: the socket index, the
	// per-document connection sets and the topic subscriptions.
	mu       sync.RWMutex
	conns    map[string]*connection            // socketID → connection
	docConns map[string]map[string]*connection // documentID → socketID → connection
	subs     map[string]*bus.Subscription      // documentID → topic subscription
	draining bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a hub.
func New(verifier *auth.Verifier, registry *presence.Registry, b *bus.Bus, limiter *ratelimit.Limiter, broker *events.Broker, cfg Config) *Hub {
	return &Hub{
		verifier: verifier,
		registry: registry,
		bus:      b,
		limiter:  limiter,
		broker:   broker,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   log.WithComponent("gateway"),
		conns:    make(map[string]*connection),
		docConns: make(map[string]map[string]*connection),
		subs:     make(map[string]*bus.Subscription),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic duties: limiter garbage collection and the
// presence stale sweep.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.periodicDuties()
}

// Shutdown stops accepting connections, closes every socket with a normal
// closure and waits for the periodic duties to finish.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.draining = true
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway)
	}

	h.stopOnce.Do(func() { close(h.stopCh) })

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// HandleWS upgrades an HTTP request into an authenticated realtime
// connection. The bearer token travels in the query string; a missing or
// invalid token refuses the handshake.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	principal, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	h.mu.RLock()
	draining := h.draining
	h.mu.RUnlock()
	if draining {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	socketID := uuid.New().String()
	logger := h.logger.With().
		Str("socket_id", socketID).
		Str("principal_id", principal.ID).
		Logger()
	conn := newConnection(h, ws, socketID, principal, logger)

	// Re-check draining under the same lock that registers the socket: an
	// upgrade racing Shutdown must not land after the close snapshot.
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		conn.close(websocket.CloseGoingAway)
		return
	}
	h.conns[socketID] = conn
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()

	h.broker.Publish(&events.Event{
		Type:     events.EventConnectionOpened,
		Message:  "connection opened",
		Metadata: map[string]string{"socket_id": socketID, "principal_id": principal.ID},
	})
	logger.Info().Msg("connection opened")

	conn.enqueue(types.NewFrame(types.MessageConnected, map[string]string{
		"message": "connected to coscribe hub",
	}))

	go conn.writePump()
	go conn.readPump()
}

type joinPayload struct {
	DocumentID string `json:"documentId"`
}

type updatePayload struct {
	DocumentID string          `json:"documentId"`
	Update     string          `json:"update"`
	Cursor     json.RawMessage `json:"cursor,omitempty"`
}

// handleFrame dispatches one inbound frame on the connection's read pump.
func (h *Hub) handleFrame(c *connection, frame *types.Frame) {
	switch frame.Type {
	case types.MessageJoinDocument:
		h.handleJoin(c, frame)
	case types.MessageLeaveDocument:
		h.handleLeave(c)
	case types.MessageCRDTUpdate, types.MessageAwarenessUpdate:
		h.handleUpdate(c, frame)
	default:
		c.sendError("unknown message type: " + string(frame.Type))
	}
}

func (h *Hub) handleJoin(c *connection, frame *types.Frame) {
	var payload joinPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.DocumentID == "" {
		c.sendError("join-document requires a documentId")
		return
	}

	// A join while joined elsewhere implies an implicit leave first.
	if c.doc != "" {
		h.leaveDocument(c)
	}

	ctx := context.Background()
	if err := h.registry.AddSession(ctx, payload.DocumentID, c.principal, c.socketID, nil); err != nil {
		c.logger.Error().Err(err).Msg("failed to register session")
		c.sendError("failed to join document")
		return
	}

	if err := h.attach(c, payload.DocumentID); err != nil {
		c.logger.Error().Err(err).Msg("failed to subscribe to document topic")
		_, _ = h.registry.RemoveSession(ctx, payload.DocumentID, c.principal.ID, c.socketID)
		c.sendError("failed to join document")
		return
	}
	c.doc = payload.DocumentID
	metrics.SessionsActive.Inc()

	joined := types.NewFrame(types.MessageUserJoined, map[string]types.UserInfo{"user": c.principal.User()})
	if err := h.bus.Publish(ctx, payload.DocumentID, &types.Envelope{
		Type:   types.MessageUserJoined,
		Data:   joined.Data,
		Origin: c.socketID,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish user-joined")
	}

	sessions, err := h.registry.ListSessions(ctx, payload.DocumentID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list sessions for joiner")
		sessions = nil
	}
	users := make([]types.UserInfo, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, s.User())
	}
	c.enqueue(types.NewFrame(types.MessageUsersInDocument, map[string][]types.UserInfo{"users": users}))

	h.broker.Publish(&events.Event{
		Type:     events.EventSessionJoined,
		Message:  "session joined",
		Metadata: map[string]string{"socket_id": c.socketID, "document_id": payload.DocumentID},
	})
	c.logger.Info().Str("document_id", payload.DocumentID).Msg("joined document")
}

func (h *Hub) handleLeave(c *connection) {
	if c.doc == "" {
		c.sendError("not joined to a document")
		return
	}
	h.leaveDocument(c)
}

func (h *Hub) handleUpdate(c *connection, frame *types.Frame) {
	if c.doc == "" {
		c.sendError("join a document before sending updates")
		return
	}

	var payload updatePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.DocumentID == "" {
		c.sendError(string(frame.Type) + " requires a documentId")
		return
	}
	if payload.DocumentID != c.doc {
		c.sendError("not joined to document " + payload.DocumentID)
		return
	}

	ctx := context.Background()
	decision := h.limiter.Check(ctx, c.principal.ID, frame.Type)
	if !decision.Admitted {
		h.broker.Publish(&events.Event{
			Type:     events.EventRateLimited,
			Message:  "message rejected by rate limiter",
			Metadata: map[string]string{"socket_id": c.socketID, "type": string(frame.Type)},
		})
		c.sendError("rate limit exceeded for " + string(frame.Type))
		return
	}

	// Activity refresh keeps the session out of the stale sweep; awareness
	// frames carrying a cursor blob persist it alongside. Failure here must
	// not block the broadcast.
	if frame.Type == types.MessageAwarenessUpdate && len(payload.Cursor) > 0 {
		if err := h.registry.UpdateCursor(ctx, c.doc, c.principal.ID, payload.Cursor); err != nil {
			c.logger.Debug().Err(err).Msg("cursor update failed")
		}
	} else if err := h.registry.Touch(ctx, c.doc, c.principal.ID); err != nil {
		c.logger.Debug().Err(err).Msg("session touch failed")
	}

	// The update payload is opaque: forwarded byte for byte.
	if err := h.bus.Publish(ctx, c.doc, &types.Envelope{
		Type:   frame.Type,
		Data:   frame.Data,
		Origin: c.socketID,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish update")
		c.sendError("failed to broadcast update")
	}
}

// leaveDocument removes the session, announces the departure and releases
// the topic subscription when this instance holds no more local sessions
// for the document. When the session is owned by a newer socket the
// registry removal is a no-op and no departure is announced: the
// principal is still present.
func (h *Hub) leaveDocument(c *connection) {
	documentID := c.doc
	c.doc = ""
	metrics.SessionsActive.Dec()

	ctx := context.Background()
	removed, err := h.registry.RemoveSession(ctx, documentID, c.principal.ID, c.socketID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to remove session")
	}

	if removed {
		left := types.NewFrame(types.MessageUserLeft, map[string]types.UserInfo{"user": c.principal.User()})
		if err := h.bus.Publish(ctx, documentID, &types.Envelope{
			Type:   types.MessageUserLeft,
			Data:   left.Data,
			Origin: c.socketID,
		}); err != nil {
			c.logger.Warn().Err(err).Msg("failed to publish user-left")
		}
	}

	h.detach(c, documentID)
	if removed {
		h.broker.Publish(&events.Event{
			Type:     events.EventSessionLeft,
			Message:  "session left",
			Metadata: map[string]string{"socket_id": c.socketID, "document_id": documentID},
		})
	}
	c.logger.Info().Str("document_id", documentID).Bool("owned", removed).Msg("left document")
}

// disconnect runs the close-path cleanup for a socket.
func (h *Hub) disconnect(c *connection) {
	if c.doc != "" {
		h.leaveDocument(c)
	}

	h.mu.Lock()
	delete(h.conns, c.socketID)
	h.mu.Unlock()
	metrics.ConnectionsActive.Dec()

	h.broker.Publish(&events.Event{
		Type:     events.EventConnectionClosed,
		Message:  "connection closed",
		Metadata: map[string]string{"socket_id": c.socketID},
	})
	c.logger.Info().Msg("connection closed")
}

// attach adds the connection to the document's local set, subscribing to
// the topic when it is the first local member.
func (h *Hub) attach(c *connection, documentID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.docConns[documentID]
	if !ok {
		set = make(map[string]*connection)
		h.docConns[documentID] = set
	}
	set[c.socketID] = c

	if _, subscribed := h.subs[documentID]; subscribed {
		return nil
	}
	sub, err := h.bus.Subscribe(context.Background(), documentID, h.relay)
	if err != nil {
		delete(set, c.socketID)
		if len(set) == 0 {
			delete(h.docConns, documentID)
		}
		return err
	}
	h.subs[documentID] = sub
	return nil
}

// detach removes the connection from the document's local set and drops
// the topic subscription when the set empties.
func (h *Hub) detach(c *connection, documentID string) {
	h.mu.Lock()
	set := h.docConns[documentID]
	delete(set, c.socketID)
	var sub *bus.Subscription
	if len(set) == 0 {
		delete(h.docConns, documentID)
		sub = h.subs[documentID]
		delete(h.subs, documentID)
	}
	h.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			h.logger.Warn().Err(err).Str("document_id", documentID).Msg("failed to close subscription")
		}
	}
}

// relay fans one bus envelope out to the local sockets joined to the
// document, skipping the originator.
func (h *Hub) relay(documentID string, env *types.Envelope) {
	h.mu.RLock()
	set := h.docConns[documentID]
	targets := make([]*connection, 0, len(set))
	for _, c := range set {
		if c.socketID != env.Origin {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	frame := types.Frame{Type: env.Type, Data: env.Data}
	for _, c := range targets {
		c.enqueue(frame)
	}
}

// LocalConnections returns the number of sockets held by this instance.
func (h *Hub) LocalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) periodicDuties() {
	defer h.wg.Done()

	limiterGC := time.NewTicker(h.cfg.LimiterGCInterval)
	defer limiterGC.Stop()
	staleSweep := time.NewTicker(h.cfg.StaleSweepInterval)
	defer staleSweep.Stop()

	for {
		select {
		case <-limiterGC.C:
			if _, err := h.limiter.GC(context.Background()); err != nil {
				h.logger.Warn().Err(err).Msg("rate limit GC failed")
			}
		case <-staleSweep.C:
			removed, err := h.registry.SweepStale(context.Background())
			if err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Warn().Err(err).Msg("presence sweep failed")
				continue
			}
			h.broker.Publish(&events.Event{
				Type:    events.EventSweepCompleted,
				Message: "presence sweep completed",
				Metadata: map[string]string{
					"removed": strconv.Itoa(removed),
				},
			})
		case <-h.stopCh:
			return
		}
	}
}
