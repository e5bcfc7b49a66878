package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/events"
	"github.com/coscribe/coscribe/pkg/metrics"
	"github.com/coscribe/coscribe/pkg/types"
)

const (
	// sendBuffer bounds the per-connection outbound queue. A frame that
	// cannot be buffered is dropped for that socket; the connection is
	// never severed for a drop.
	sendBuffer = 64

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = 50 * time.Second

	// maxFrameBytes caps inbound frames. CRDT deltas are small; anything
	// larger is a protocol violation.
	maxFrameBytes = 1 << 20
)

// connection is one authenticated websocket held by this instance.
//
// The doc field is owned by the read pump: it changes only while handling
// join and leave frames. Cross-goroutine delivery goes through the hub's
// document index, never through this field.
type connection struct {
	socketID  string
	principal *types.Principal
	ws        *websocket.Conn
	hub       *Hub
	logger    zerolog.Logger

	doc string // joined document id, empty while only authenticated

	send      chan types.Frame
	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(hub *Hub, ws *websocket.Conn, socketID string, principal *types.Principal, logger zerolog.Logger) *connection {
	return &connection{
		socketID:  socketID,
		principal: principal,
		ws:        ws,
		hub:       hub,
		logger:    logger,
		send:      make(chan types.Frame, sendBuffer),
		closed:    make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump without blocking. On a full
// buffer the frame is dropped and counted.
func (c *connection) enqueue(frame types.Frame) {
	select {
	case c.send <- frame:
	case <-c.closed:
	default:
		metrics.SendsDroppedTotal.Inc()
		c.hub.broker.Publish(&events.Event{
			Type:     events.EventSendDropped,
			Message:  "send buffer full",
			Metadata: map[string]string{"socket_id": c.socketID, "type": string(frame.Type)},
		})
		c.logger.Warn().Str("type", string(frame.Type)).Msg("dropped frame for slow socket")
	}
}

// sendError enqueues an error frame. Protocol and rate-limit errors keep
// the connection open.
func (c *connection) sendError(message string) {
	c.enqueue(types.NewFrame(types.MessageError, map[string]string{"message": message}))
}

// close tears the socket down once. closeCode is sent as the websocket
// close frame when the peer is still reachable.
func (c *connection) close(closeCode int) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeTimeout)
		msg := websocket.FormatCloseMessage(closeCode, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		close(c.closed)
		_ = c.ws.Close()
	})
}

// readPump processes inbound frames in arrival order until the socket
// closes, then runs the leave cleanup.
func (c *connection) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.close(websocket.CloseNormalClosure)
	}()

	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var frame types.Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("socket closed unexpectedly")
			}
			return
		}
		metrics.FramesInTotal.WithLabelValues(string(frame.Type)).Inc()
		c.hub.handleFrame(c, &frame)
	}
}

// writePump serializes all writes to the socket and keeps it alive with
// pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing socket")
				c.close(websocket.CloseAbnormalClosure)
				return
			}
			metrics.FramesOutTotal.WithLabelValues(string(frame.Type)).Inc()
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close(websocket.CloseAbnormalClosure)
				return
			}
		case <-c.closed:
			return
		}
	}
}
