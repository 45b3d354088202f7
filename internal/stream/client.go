// Package stream maintains one WebSocket subscription per topic, decodes its
// envelopes, keeps it alive with heartbeats and reconnects with backoff.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nghyane/gameday-net/internal/apierr"
	"github.com/nghyane/gameday-net/internal/backoff"
	"github.com/nghyane/gameday-net/internal/broadcast"
	"github.com/nghyane/gameday-net/internal/connectivity"
	"github.com/nghyane/gameday-net/internal/json"
	log "github.com/nghyane/gameday-net/internal/logging"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

// TokenSource supplies the bearer token for the handshake.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// ConnectivitySource reports connectivity and announces its changes.
type ConnectivitySource interface {
	CurrentStatus() connectivity.Status
	StatusStream() *broadcast.Subscription[connectivity.Status]
}

var errOffline = errors.New("device is offline")

// Settings control liveness and reconnection. They may be swapped while a
// session is running; the next heartbeat tick or reconnect attempt sees them.
type Settings struct {
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		HeartbeatInterval:    30 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    60 * time.Second,
	}
}

type Config struct {
	// URL is the stream endpoint; the topic id is appended as a path segment.
	// http and https schemes are rewritten to ws and wss.
	URL      string
	Settings Settings
}

type Client struct {
	base     *url.URL
	tokens   TokenSource
	network  ConnectivitySource
	dialer   *websocket.Dialer
	settings atomic.Pointer[Settings]

	states   *broadcast.Hub[ConnectionState]
	messages *broadcast.Hub[Message]

	sleep func(context.Context, time.Duration) error
	rand  func() float64

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex
	// mu guards sess, dialCancel and every session-scoped state publication.
	mu         sync.Mutex
	sess       *session
	dialCancel context.CancelFunc
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option { return func(c *Client) { c.dialer = d } }

func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func WithRand(fn func() float64) Option { return func(c *Client) { c.rand = fn } }

// New builds a client. network may be nil, in which case the device is
// assumed online.
func New(cfg Config, network ConnectivitySource, tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("stream: token source is required")
	}
	base, err := parseStreamURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:    base,
		tokens:  tokens,
		network: network,
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
		states: broadcast.New(
			broadcast.WithReplay[ConnectionState](),
			broadcast.WithDedupe(func(a, b ConnectionState) bool { return a == b }),
			broadcast.WithInitial(StateDisconnected()),
		),
		messages: broadcast.New[Message](),
		sleep:    backoff.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.UpdateSettings(cfg.Settings)
	return c, nil
}

func parseStreamURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("stream: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("stream: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("stream: url %q has no host", raw)
	}
	return u, nil
}

// UpdateSettings swaps the liveness and reconnection settings. Zero fields
// fall back to defaults.
func (c *Client) UpdateSettings(s Settings) {
	def := DefaultSettings()
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = def.HeartbeatInterval
	}
	if s.MaxReconnectAttempts < 0 {
		s.MaxReconnectAttempts = 0
	}
	if s.ReconnectBaseDelay <= 0 {
		s.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if s.ReconnectMaxDelay <= 0 {
		s.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	c.settings.Store(&s)
}

func (c *Client) Settings() Settings {
	if s := c.settings.Load(); s != nil {
		return *s
	}
	return DefaultSettings()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	s, _ := c.states.Current()
	return s
}

// States opens an independent state subscription. The current state is
// delivered first, then transitions without repeats.
func (c *Client) States() *broadcast.Subscription[ConnectionState] {
	return c.states.Subscribe()
}

// Messages opens an independent subscription to decoded inbound frames.
func (c *Client) Messages() *broadcast.Subscription[Message] {
	return c.messages.Subscribe()
}

// Topic returns the topic of the active session, or "".
func (c *Client) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.topic
}

// Connect opens a session for topic. A session for another topic is closed
// first; an existing connected session for the same topic is kept. Any
// reconnection in progress is abandoned and its attempt counter reset.
func (c *Client) Connect(ctx context.Context, topic string) error {
	if strings.TrimSpace(topic) == "" {
		return apierr.New(apierr.KindInvalidRequest, errors.New("empty topic"))
	}
	if !c.online() {
		return apierr.New(apierr.KindNetworkUnavailable, errOffline)
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.dialCancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.dialCancel = nil
		c.mu.Unlock()
		cancel()
	}()

	c.mu.Lock()
	current := c.sess
	c.mu.Unlock()
	if current != nil {
		if current.topic == topic && c.State().Phase == Connected {
			return nil
		}
		c.disconnectLocked()
	}

	token, ok := c.tokens.AccessToken(ctx)
	if !ok {
		return apierr.New(apierr.KindUnauthorized, errors.New("no access token"))
	}

	c.publish(StateConnecting())
	conn, err := c.dial(ctx, topic, token)
	if err != nil {
		c.publish(StateDisconnected())
		return err
	}

	sess := newSession(topic)
	sess.setConn(conn)
	c.mu.Lock()
	c.sess = sess
	c.states.Publish(StateConnected())
	c.mu.Unlock()

	log.WithFields(log.Fields{"topic": topic, "session_id": sess.id}).Info("stream connected")
	go c.run(sess, conn)
	return nil
}

// Disconnect closes the session intentionally. Background loops have stopped
// by the time it returns, and no reconnection follows. A Connect still in its
// handshake is abandoned and returns cancelled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.dialCancel != nil {
		c.dialCancel()
	}
	c.mu.Unlock()
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	if sess != nil {
		sess.cancel()
	}
	c.mu.Unlock()

	if sess != nil {
		sess.shutdown()
		<-sess.done
		log.WithFields(log.Fields{"topic": sess.topic, "session_id": sess.id}).Info("stream disconnected")
	}
	c.publish(StateDisconnected())
}

// Close disconnects and ends every state and message subscription.
func (c *Client) Close() {
	c.Disconnect()
	c.states.Close()
	c.messages.Close()
}

// Send writes payload to the open channel. []byte and json.RawMessage are
// sent verbatim; anything else is JSON encoded with snake_case keys.
func (c *Client) Send(payload any) error {
	data, err := json.MarshalSnake(payload)
	if err != nil {
		return apierr.New(apierr.KindEncodeFailed, err)
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return apierr.New(apierr.KindNetworkUnavailable, errNoChannel)
	}
	if err := sess.write(websocket.TextMessage, data); err != nil {
		return apierr.New(apierr.KindNetworkUnavailable, err)
	}
	return nil
}

func (c *Client) publish(s ConnectionState) {
	if c.states.Publish(s) {
		log.WithField("state", s.String()).Debug("stream state changed")
	}
}

// publishFor publishes s only while sess is still the live session, so a
// session that has been disconnected can never announce reconnecting.
func (c *Client) publishFor(sess *session, s ConnectionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess || sess.ctx.Err() != nil {
		return false
	}
	if c.states.Publish(s) {
		log.WithFields(log.Fields{"state": s.String(), "session_id": sess.id}).Debug("stream state changed")
	}
	return true
}

func (c *Client) topicURL(topic string) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + url.PathEscape(topic)
	u.RawPath = ""
	return u.String()
}

func (c *Client) dial(ctx context.Context, topic, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Request-ID", uuid.NewString())

	// The handshake only honors a deadline, so ending ctx expires the raw
	// connection to unblock it.
	d := *c.dialer
	netDial := d.NetDialContext
	if netDial == nil {
		netDial = (&net.Dialer{}).DialContext
	}
	var stop func() bool
	d.NetDialContext = func(dctx context.Context, network, addr string) (net.Conn, error) {
		nc, err := netDial(dctx, network, addr)
		if err == nil {
			stop = context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
		}
		return nc, err
	}

	conn, resp, err := d.DialContext(ctx, c.topicURL(topic), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if stop != nil && !stop() && err == nil {
		_ = conn.Close()
		conn, err = nil, ctx.Err()
	}
	if err == nil {
		return conn, nil
	}
	fields := log.Fields{"topic": topic}
	if resp != nil {
		fields["status"] = resp.StatusCode
	}
	log.WithFields(fields).WithError(err).Warn("stream dial failed")

	switch {
	case resp != nil && resp.StatusCode == http.StatusUnauthorized:
		return nil, &apierr.Error{Kind: apierr.KindUnauthorized, Code: resp.StatusCode, Err: err}
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		return nil, &apierr.Error{Kind: apierr.KindNotFound, Code: resp.StatusCode, Err: err}
	case resp != nil && resp.StatusCode >= 400:
		return nil, apierr.NewServerError(resp.StatusCode, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, apierr.New(apierr.KindCancelled, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, apierr.New(apierr.KindTimeout, err)
	default:
		return nil, apierr.New(apierr.KindNetworkUnavailable, err)
	}
}

// run owns a session until it is cancelled or reconnection gives up.
func (c *Client) run(sess *session, conn *websocket.Conn) {
	defer close(sess.done)
	for conn != nil {
		err := c.serve(sess, conn)
		if sess.ctx.Err() != nil {
			return
		}
		log.WithFields(log.Fields{"topic": sess.topic, "session_id": sess.id}).WithError(err).Warn("stream connection lost")
		conn = c.reconnect(sess)
	}
	c.mu.Lock()
	if c.sess == sess && sess.ctx.Err() == nil {
		c.sess = nil
		sess.cancel()
		c.states.Publish(StateDisconnected())
		log.WithField("topic", sess.topic).Warn("stream reconnection exhausted, giving up")
	}
	c.mu.Unlock()
}

func (c *Client) online() bool {
	return c.network == nil || c.network.CurrentStatus().Connected()
}

// waitOnline blocks while the device is offline. It reports false when ctx
// ends or the connectivity stream closes first.
func (c *Client) waitOnline(ctx context.Context, sess *session) bool {
	if c.online() {
		return true
	}
	sub := c.network.StatusStream()
	defer sub.Close()
	log.WithFields(log.Fields{"topic": sess.topic, "session_id": sess.id}).Info("stream waiting for connectivity")
	for {
		select {
		case <-ctx.Done():
			return false
		case status, ok := <-sub.C():
			if !ok {
				return false
			}
			if status.Connected() {
				return true
			}
		}
	}
}

// reconnect emits reconnecting(n) before each try and returns the new
// connection, or nil once attempts are exhausted or the session is cancelled.
// Attempt n waits base*2^(n-1), so the first retry waits exactly the base
// delay. While the device is offline no dial is made and the attempt
// counter does not advance.
func (c *Client) reconnect(sess *session) *websocket.Conn {
	s := c.Settings()
	policy := backoff.Policy{
		Base:   s.ReconnectBaseDelay,
		Max:    s.ReconnectMaxDelay,
		Jitter: backoff.DefaultJitter,
		Rand:   c.rand,
	}
	for attempt := 1; attempt <= s.MaxReconnectAttempts; attempt++ {
		if !c.publishFor(sess, StateReconnecting(attempt)) {
			return nil
		}
		if !c.waitOnline(sess.ctx, sess) {
			return nil
		}
		delay := policy.Delay(attempt - 1)
		log.WithFields(log.Fields{"attempt": attempt, "delay": delay.String(), "topic": sess.topic}).Info("stream reconnecting")
		if err := c.sleep(sess.ctx, delay); err != nil {
			return nil
		}
		token, ok := c.tokens.AccessToken(sess.ctx)
		if !ok {
			log.WithField("attempt", attempt).Warn("stream reconnect skipped: no access token")
			continue
		}
		conn, err := c.dial(sess.ctx, sess.topic, token)
		if err != nil {
			if sess.ctx.Err() != nil {
				return nil
			}
			continue
		}
		if !sess.setConn(conn) {
			return nil
		}
		if !c.publishFor(sess, StateConnected()) {
			sess.shutdown()
			return nil
		}
		log.WithFields(log.Fields{"topic": sess.topic, "attempt": attempt}).Info("stream reconnected")
		return conn
	}
	return nil
}
