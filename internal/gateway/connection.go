package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/broadcast"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
)

// Connection is one accepted websocket socket: a read pump decoding client
// frames, a write pump draining the outbound channel, and one fan-in
// goroutine per active subscription copying broadcast.Envelope values onto
// outbound. Mirrors the teacher's pairs_ws.go client struct (conn, send
// chan []byte, hub) generalized to per-connection subscription sets rather
// than one hub-wide fan-out.
type Connection struct {
	id     uuid.UUID
	userID uuid.UUID
	role   string

	ws     *websocket.Conn
	codec  *frameCodec
	server *Server
	logger *zap.Logger

	outbound chan []byte
	churn    *limiter.Limiter

	mu         sync.Mutex
	subs       map[string]func() // topic -> unsubscribe
	closeOnce  sync.Once
	clientVer  *semver.Version
}

// handshake blocks for the first client frame, requiring action=handshake
// with a bearer token and a protocol version inside the server's configured
// band (spec §4.5 gateway authenticates once at handshake; the version
// band is this build's addition for forward-compatible clients).
func (c *Connection) handshake() bool {
	c.ws.SetReadDeadline(time.Now().Add(c.server.cfg.IdleTimeout))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return false
	}
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Action != ActionHandshake {
		c.writeControl(ServerMessage{Type: ServerTypeError, Error: "handshake required"})
		return false
	}

	claims, err := c.server.authSvc.ValidateToken(msg.Token)
	if err != nil {
		c.writeControl(ServerMessage{Type: ServerTypeError, Error: "invalid token"})
		return false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.writeControl(ServerMessage{Type: ServerTypeError, Error: "invalid token subject"})
		return false
	}

	ver, err := semver.NewVersion(msg.Version)
	if err != nil || ver.LessThan(c.server.minVer) || ver.GreaterThan(c.server.maxVer) {
		c.writeControl(ServerMessage{Type: ServerTypeError, Error: "unsupported protocol version"})
		return false
	}

	c.userID = userID
	c.role = string(claims.Role)
	c.clientVer = ver
	c.writeControl(ServerMessage{Type: ServerTypeHandshake})
	return true
}

// run drives the connection until the socket closes or it is torn down,
// spawning the read pump on the caller's goroutine and the write pump on a
// second one, blocking until both finish.
func (c *Connection) run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	c.readPump()
	wg.Wait()

	c.mu.Lock()
	for _, unsub := range c.subs {
		unsub()
	}
	c.mu.Unlock()
}

func (c *Connection) readPump() {
	defer c.ws.Close()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.server.cfg.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.server.cfg.IdleTimeout))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		decoded, err := c.codec.decode(raw)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(decoded, &msg); err != nil {
			c.writeControl(ServerMessage{Type: ServerTypeError, Error: "malformed frame"})
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Connection) dispatch(msg ClientMessage) {
	switch msg.Action {
	case ActionPing:
		c.writeControl(ServerMessage{Type: ServerTypePong})
	case ActionSubscribe:
		for _, topic := range msg.Topics {
			c.subscribe(topic)
		}
	case ActionUnsubscribe:
		for _, topic := range msg.Topics {
			c.unsubscribe(topic)
		}
	default:
		c.writeControl(ServerMessage{Type: ServerTypeError, Error: "unknown action"})
	}
}

// subscribe enforces the per-connection topic authorization rule (spec
// §4.5: market channels are open to any authenticated subscriber, user
// channels only to their own) and the churn rate limit before binding to
// the bus.
func (c *Connection) subscribe(topic string) {
	c.mu.Lock()
	if _, exists := c.subs[topic]; exists {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if !c.authorizedFor(topic) {
		c.writeControl(ServerMessage{Type: ServerTypeError, Topic: topic, Error: "not authorized for topic"})
		return
	}

	ctx := context.Background()
	limCtx, err := c.churn.Get(ctx, c.id.String())
	if err == nil && limCtx.Reached {
		c.writeControl(ServerMessage{Type: ServerTypeError, Topic: topic, Error: "subscription churn limit exceeded"})
		return
	}

	ch, unsub, err := c.server.bus.Subscribe(ctx, topic)
	if err != nil {
		c.writeControl(ServerMessage{Type: ServerTypeError, Topic: topic, Error: "subscribe failed"})
		return
	}

	c.mu.Lock()
	c.subs[topic] = unsub
	c.mu.Unlock()

	go c.fanIn(topic, ch)
	c.writeControl(ServerMessage{Type: ServerTypeAck, Topic: topic})
}

func (c *Connection) unsubscribe(topic string) {
	c.mu.Lock()
	unsub, ok := c.subs[topic]
	if ok {
		delete(c.subs, topic)
	}
	c.mu.Unlock()
	if ok {
		unsub()
	}
	c.writeControl(ServerMessage{Type: ServerTypeAck, Topic: topic})
}

func (c *Connection) authorizedFor(topic string) bool {
	if isUserTopic(topic) {
		return topic == broadcast.UserOrdersTopic(c.userID) || topic == broadcast.UserBalanceTopic(c.userID)
	}
	return true
}

func isUserTopic(topic string) bool {
	return len(topic) > 5 && topic[:5] == "user."
}

// fanIn copies envelopes from one subscription onto the connection's shared
// outbound channel, applying the drop-not-block backpressure policy (spec
// §5 "a slow subscriber's connection is torn down rather than allowed to
// block the publisher"): a full outbound buffer closes the connection
// instead of stalling this goroutine, which would otherwise stall the bus.
func (c *Connection) fanIn(topic string, ch <-chan broadcast.Envelope) {
	for env := range ch {
		payload, err := json.Marshal(env)
		if err != nil {
			continue
		}
		msg := ServerMessage{
			Type: ServerTypeEvent, Topic: topic,
			Sequence: env.Sequence, Payload: payload,
		}
		framed := c.codec.encode(mustMarshal(msg))
		select {
		case c.outbound <- framed:
		default:
			c.server.metrics.GatewaySlowDrops.WithLabelValues("outbound_full").Inc()
			c.close("slow consumer")
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case frame, ok := <-c.outbound:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeControl(msg ServerMessage) {
	framed := c.codec.encode(mustMarshal(msg))
	select {
	case c.outbound <- framed:
	default:
		c.server.metrics.GatewaySlowDrops.WithLabelValues("control_full").Inc()
		c.close("slow consumer")
	}
}

func (c *Connection) close(reason string) {
	c.closeOnce.Do(func() {
		c.logger.Debug("closing connection", zap.String("reason", reason))
		c.ws.Close()
	})
}

func mustMarshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(strconv.Quote("marshal error"))
	}
	return raw
}
