// Package wsconn is a reconnecting websocket connection shared by the
// exchange streams.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Config controls dialing and reconnects.
type Config struct {
	URL           string
	Header        http.Header
	MaxReconnects int           // consecutive failed sessions before giving up
	ReconnectWait time.Duration // fixed pause between sessions
	SendRate      rate.Limit    // outbound messages per second, 0 for unlimited
	SendBurst     int
}

// DefaultConfig returns the reconnect budget used by every stream.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		SendRate:      5,
		SendBurst:     5,
	}
}

// Handler reacts to connection events. OnConnect runs after every dial,
// before reads start, and usually sends subscriptions.
type Handler interface {
	OnConnect(ctx context.Context, c *Conn) error
	OnMessage(raw []byte)
}

// Conn owns one websocket session at a time and redials when it drops.
// A session that ends with a normal closure does not use up the reconnect
// budget; a heartbeat from the peer refills it.
type Conn struct {
	cfg     Config
	dialer  websocket.Dialer
	limiter *rate.Limiter
	logger  *slog.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	attempts  atomic.Int32
	connected atomic.Bool
	disabled  atomic.Bool
}

// New creates an unconnected Conn.
func New(cfg Config, logger *slog.Logger) *Conn {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.SendRate, burst)
	}
	return &Conn{
		cfg:     cfg,
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "wsconn"), slog.String("url", cfg.URL)),
	}
}

// Run dials and serves sessions until ctx ends, Disconnect is called or the
// reconnect budget is exhausted.
func (c *Conn) Run(ctx context.Context, h Handler) error {
	for {
		normal, err := c.session(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.disabled.Load() {
			return nil
		}

		if !normal {
			n := int(c.attempts.Add(1))
			if c.cfg.MaxReconnects > 0 && n > c.cfg.MaxReconnects {
				return fmt.Errorf("wsconn: gave up after %d reconnects: %w", c.cfg.MaxReconnects, errors.Join(domain.ErrWSDisconnect, err))
			}
			c.logger.WarnContext(ctx, "websocket dropped, reconnecting",
				slog.Int("attempt", n),
				slog.String("error", errString(err)),
			)
		} else {
			c.logger.InfoContext(ctx, "websocket closed normally, reconnecting")
		}

		t := time.NewTimer(c.cfg.ReconnectWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Conn) session(ctx context.Context, h Handler) (normal bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return false, fmt.Errorf("wsconn: dial: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	sessCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	// unblock ReadMessage when ctx ends
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()
	go c.pingLoop(sessCtx, conn)

	if err := h.OnConnect(sessCtx, c); err != nil {
		return false, fmt.Errorf("wsconn: on connect: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return websocket.IsCloseError(err, websocket.CloseNormalClosure), err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.OnMessage(msg)
	}
}

func (c *Conn) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send encodes v as JSON and writes it, paced by the send rate.
func (c *Conn) Send(ctx context.Context, v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsconn: marshal: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("wsconn: send: %w", domain.ErrWSDisconnect)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wsconn: send: %w", err)
	}
	return nil
}

// Heartbeat refills the reconnect budget.
func (c *Conn) Heartbeat() {
	c.attempts.Store(0)
}

// Attempts returns the failed sessions counted since the last heartbeat.
func (c *Conn) Attempts() int {
	return int(c.attempts.Load())
}

// Connected reports whether a session is currently open.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// Disconnect closes the current session and disables reconnects.
func (c *Conn) Disconnect() {
	c.disabled.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
