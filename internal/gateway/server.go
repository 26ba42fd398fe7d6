// Package gateway implements the Subscriber Gateway of spec §4.5: long
// lived, authenticated, bidirectional connections that subscribe to
// Broadcast Bus topics on a client's behalf. Structurally it follows the
// teacher's internal/ws server (cmd/ws/main.go: gorilla/websocket handler
// registered on a gin route, one goroutine pair per connection) generalized
// from tradSys's single global feed to per-connection, per-topic
// subscriptions with churn/backpressure limits spec.md requires that the
// teacher's ws server does not have.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ulule/limiter/v3"
	limiterMemory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/auth"
	"github.com/novamarket/predictcore/internal/broadcast"
	"github.com/novamarket/predictcore/internal/metrics"
)

// Config tunes the gateway (spec §6 tunables: idle timeout, outbound
// buffer size, subscription-churn ceiling, plus the protocol-version band
// this build adds).
type Config struct {
	IdleTimeout                time.Duration
	OutboundBufferSize         int
	SubscriptionChurnPerMinute int
	MinProtocolVersion         string
	MaxProtocolVersion         string
}

// Server accepts websocket upgrades and hosts one *Connection per accepted
// socket. It holds no per-connection state itself beyond bookkeeping for
// metrics and graceful shutdown.
type Server struct {
	cfg     Config
	bus     broadcast.Bus
	authSvc *auth.Service
	metrics *metrics.Metrics
	logger  *zap.Logger

	upgrader websocket.Upgrader

	minVer *semver.Version
	maxVer *semver.Version

	mu    sync.Mutex
	conns map[uuid.UUID]*Connection
}

func NewServer(cfg Config, bus broadcast.Bus, authSvc *auth.Service, m *metrics.Metrics, logger *zap.Logger) (*Server, error) {
	minVer, err := semver.NewVersion(cfg.MinProtocolVersion)
	if err != nil {
		return nil, err
	}
	maxVer, err := semver.NewVersion(withoutWildcard(cfg.MaxProtocolVersion))
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		bus:     bus,
		authSvc: authSvc,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		minVer: minVer,
		maxVer: maxVer,
		conns:  make(map[uuid.UUID]*Connection),
	}, nil
}

func withoutWildcard(v string) string {
	// "1.x.x" style ranges aren't valid semver.Version literals; pin the
	// ceiling to the top of that major (1.x.x becomes 1.999.999) for a
	// concrete upper bound instead.
	if v == "" {
		return "999.999.999"
	}
	if major, rest, ok := strings.Cut(v, "."); ok && strings.Contains(rest, "x") {
		if n, err := strconv.Atoi(major); err == nil {
			return fmt.Sprintf("%d.999.999", n)
		}
	}
	return v
}

// ServeHTTP upgrades the connection, performs the handshake (bearer token
// + protocol version, spec §4.5 "authenticates each long-lived connection
// once at handshake"), and hands off to the connection's read/write pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	codec, err := newFrameCodec()
	if err != nil {
		s.logger.Error("failed to build frame codec", zap.Error(err))
		conn.Close()
		return
	}

	rate := limiter.Rate{Period: time.Minute, Limit: int64(s.cfg.SubscriptionChurnPerMinute)}
	churnLimiter := limiter.New(limiterMemory.NewStore(), rate)

	connID := uuid.New()
	c := &Connection{
		id:       connID,
		ws:       conn,
		codec:    codec,
		server:   s,
		outbound: make(chan []byte, s.cfg.OutboundBufferSize),
		subs:     make(map[string]func()),
		churn:    churnLimiter,
		logger:   s.logger.With(zap.String("conn_id", connID.String())),
	}

	if !c.handshake() {
		conn.Close()
		codec.close()
		return
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.metrics.GatewayConns.Inc()

	c.run()

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.metrics.GatewayConns.Dec()
}

// Shutdown tears down every open connection, used on process exit.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close("server shutting down")
	}
}
