package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nghyane/gameday-net/internal/apierr"
	"github.com/nghyane/gameday-net/internal/broadcast"
	"github.com/nghyane/gameday-net/internal/connectivity"
)

func timeZero() time.Time { return time.Unix(0, 0) }

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, bool) { return string(s), s != "" }

type fakeServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	reject   atomic.Int32 // status to answer instead of upgrading, 0 to accept
	stall    atomic.Bool  // hold the handshake until the test ends
	silent   atomic.Bool  // upgrade, then never read or answer pings
	stalled  chan struct{}
	quit     chan struct{}

	mu       sync.Mutex
	conns    []*websocket.Conn
	paths    []string
	auth     []string
	received chan []byte
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		received: make(chan []byte, 64),
		stalled:  make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.Close)
	t.Cleanup(func() { close(fs.quit) })
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if code := fs.reject.Load(); code != 0 {
		w.WriteHeader(int(code))
		return
	}
	if fs.stall.Load() {
		select {
		case fs.stalled <- struct{}{}:
		default:
		}
		<-fs.quit
		return
	}
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.conns = append(fs.conns, conn)
	fs.paths = append(fs.paths, r.URL.Path)
	fs.auth = append(fs.auth, r.Header.Get("Authorization"))
	fs.mu.Unlock()
	if fs.silent.Load() {
		<-fs.quit
		_ = conn.Close()
		return
	}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.TextMessage {
			select {
			case fs.received <- data:
			default:
			}
		}
	}
}

func (fs *fakeServer) streamURL() string { return fs.URL + "/stream" }

func (fs *fakeServer) last() *websocket.Conn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conns[len(fs.conns)-1]
}

// drop closes every server-side connection without a close handshake.
func (fs *fakeServer) drop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, c := range fs.conns {
		_ = c.Close()
	}
}

func (fs *fakeServer) snapshot() (paths, auth []string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.paths...), append([]string(nil), fs.auth...)
}

func newTestClient(t *testing.T, fs *fakeServer, token string, s Settings, opts ...Option) *Client {
	t.Helper()
	return newTestClientOn(t, fs, nil, token, s, opts...)
}

func newTestClientOn(t *testing.T, fs *fakeServer, network ConnectivitySource, token string, s Settings, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		WithRand(func() float64 { return 0.5 }),
	}, opts...)
	c, err := New(Config{URL: fs.streamURL(), Settings: s}, network, staticToken(token), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func next[T any](t *testing.T, sub *broadcast.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription ended")
		}
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func expectStates(t *testing.T, sub *broadcast.Subscription[ConnectionState], want ...ConnectionState) {
	t.Helper()
	for i, w := range want {
		if got := next(t, sub); got != w {
			t.Fatalf("state %d = %s, want %s", i, got, w)
		}
	}
}

func expectQuiet[T any](t *testing.T, sub *broadcast.Subscription[T], wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(wait):
	}
}

func TestConnectAttachesTokenAndTopic(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok-123", DefaultSettings())

	if err := c.Connect(context.Background(), "game-42"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateConnected() || c.Topic() != "game-42" {
		t.Fatalf("state=%s topic=%q", c.State(), c.Topic())
	}
	paths, auth := fs.snapshot()
	if len(paths) != 1 || paths[0] != "/stream/game-42" {
		t.Errorf("paths = %v", paths)
	}
	if auth[0] != "Bearer tok-123" {
		t.Errorf("Authorization = %q", auth[0])
	}
}

func TestConnectWithoutTokenIsUnauthorized(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "", DefaultSettings())

	err := c.Connect(context.Background(), "game-1")
	if apierr.KindOf(err) != apierr.KindUnauthorized {
		t.Fatalf("got %v, want unauthorized", err)
	}
	if c.State() != StateDisconnected() {
		t.Errorf("state = %s", c.State())
	}
}

func TestHandshakeRejectedIsUnauthorized(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject.Store(http.StatusUnauthorized)
	c := newTestClient(t, fs, "expired", DefaultSettings())

	err := c.Connect(context.Background(), "game-1")
	if apierr.KindOf(err) != apierr.KindUnauthorized {
		t.Fatalf("got %v, want unauthorized", err)
	}
	if c.State() != StateDisconnected() {
		t.Errorf("state = %s", c.State())
	}
}

func TestMessagesAreDecodedInOrder(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok", DefaultSettings())
	a := c.Messages()
	b := c.Messages()
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}

	server := fs.last()
	frames := []string{
		`{"type":"score_update","payload":{"home":1,"away":0}}`,
		`{oops`,
		`{"type":"announcement","payload":{"text":"Go team"}}`,
	}
	for _, f := range frames {
		if err := server.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}
	if err := server.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}

	for _, sub := range []*broadcast.Subscription[Message]{a, b} {
		if got := next(t, sub); got != (ScoreUpdate{Home: 1, Away: 0}) {
			t.Errorf("first = %#v", got)
		}
		if raw, ok := next(t, sub).(Raw); !ok || string(raw.Data) != `{oops` {
			t.Errorf("second = %#v", raw)
		}
		if got := next(t, sub); got != (Announcement{Text: "Go team"}) {
			t.Errorf("third = %#v", got)
		}
		if raw, ok := next(t, sub).(Raw); !ok || len(raw.Data) != 2 {
			t.Errorf("binary = %#v", raw)
		}
	}
}

func TestClosingOneSubscriptionLeavesOthers(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok", DefaultSettings())
	a := c.Messages()
	b := c.Messages()
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	a.Close()

	if err := fs.last().WriteMessage(websocket.TextMessage, []byte(`{"type":"level_update","payload":{"value":2}}`)); err != nil {
		t.Fatal(err)
	}
	if got := next(t, b); got != (LevelUpdate{Value: 2}) {
		t.Errorf("got %#v", got)
	}
	if c.State() != StateConnected() {
		t.Errorf("state = %s", c.State())
	}
}

func TestSend(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok", DefaultSettings())

	if err := c.Send(map[string]string{"a": "b"}); apierr.KindOf(err) != apierr.KindNetworkUnavailable {
		t.Fatalf("send without channel: %v", err)
	}
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	type cheer struct {
		TeamID string
		Volume int
	}
	if err := c.Send(cheer{TeamID: "home", Volume: 11}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-fs.received:
		if string(got) != `{"team_id":"home","volume":11}` {
			t.Errorf("server received %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestPingEnvelopeIsAnswered(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok", DefaultSettings())
	msgs := c.Messages()
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	if err := fs.last().WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","payload":{"n":7}}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-fs.received:
		if !strings.Contains(string(got), `"type":"pong"`) || !strings.Contains(string(got), `"n":7`) {
			t.Errorf("reply = %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no pong")
	}
	expectQuiet(t, msgs, 100*time.Millisecond)
}

func TestHeartbeatSendsPing(t *testing.T) {
	fs := newFakeServer(t)
	s := DefaultSettings()
	s.HeartbeatInterval = 50 * time.Millisecond
	c := newTestClient(t, fs, "tok", s)
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-fs.received:
		if !strings.Contains(string(got), `"type":"ping"`) {
			t.Errorf("heartbeat frame = %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestSilentPeerTriggersReconnect(t *testing.T) {
	fs := newFakeServer(t)
	fs.silent.Store(true)
	s := DefaultSettings()
	s.HeartbeatInterval = 40 * time.Millisecond
	c := newTestClient(t, fs, "tok", s)
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	states := c.States()
	expectStates(t, states, StateConnected(), StateReconnecting(1))
}

// recordingSleeper captures requested delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestReconnectDelaysGrowToCap(t *testing.T) {
	fs := newFakeServer(t)
	s := Settings{
		HeartbeatInterval:    time.Minute,
		MaxReconnectAttempts: 8,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    time.Minute,
	}
	rec := &recordingSleeper{}
	c := newTestClient(t, fs, "tok", s, WithSleeper(rec.sleep))
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	states := c.States()
	expectStates(t, states, StateConnected())

	fs.reject.Store(http.StatusServiceUnavailable)
	fs.drop()
	for i := 1; i <= 8; i++ {
		expectStates(t, states, StateReconnecting(i))
	}
	expectStates(t, states, StateDisconnected())

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, time.Minute, time.Minute,
	}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delays = %v, want %v", got, want)
		}
	}
}

func newObserver(t *testing.T, online *atomic.Bool) *connectivity.Observer {
	t.Helper()
	o := connectivity.NewObserver(connectivity.ProberFunc(func(context.Context) connectivity.Status {
		if online.Load() {
			return connectivity.StatusConnected
		}
		return connectivity.StatusDisconnected
	}), time.Hour)
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return o
}

func TestConnectWhileOfflineIsNetworkUnavailable(t *testing.T) {
	fs := newFakeServer(t)
	var online atomic.Bool
	obs := newObserver(t, &online)
	c := newTestClientOn(t, fs, obs, "tok", DefaultSettings())

	err := c.Connect(context.Background(), "game-1")
	if apierr.KindOf(err) != apierr.KindNetworkUnavailable {
		t.Fatalf("got %v, want network unavailable", err)
	}
	if c.State() != StateDisconnected() {
		t.Errorf("state = %s", c.State())
	}
	if paths, _ := fs.snapshot(); len(paths) != 0 {
		t.Errorf("dialed while offline: %v", paths)
	}

	online.Store(true)
	obs.Recheck(context.Background())
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatalf("Connect after recovery: %v", err)
	}
}

func TestReconnectWaitsForConnectivity(t *testing.T) {
	fs := newFakeServer(t)
	var online atomic.Bool
	online.Store(true)
	obs := newObserver(t, &online)
	c := newTestClientOn(t, fs, obs, "tok", DefaultSettings())
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	states := c.States()
	expectStates(t, states, StateConnected())

	online.Store(false)
	obs.Recheck(context.Background())
	fs.drop()
	expectStates(t, states, StateReconnecting(1))
	expectQuiet(t, states, 200*time.Millisecond)
	if paths, _ := fs.snapshot(); len(paths) != 1 {
		t.Fatalf("dialed while offline: %v", paths)
	}

	online.Store(true)
	obs.Recheck(context.Background())
	expectStates(t, states, StateConnected())
	if paths, _ := fs.snapshot(); len(paths) != 2 {
		t.Errorf("paths = %v", paths)
	}
}

func TestDisconnectAbortsPendingHandshake(t *testing.T) {
	fs := newFakeServer(t)
	fs.stall.Store(true)
	c := newTestClient(t, fs, "tok", DefaultSettings())

	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background(), "game-1") }()
	select {
	case <-fs.stalled:
	case <-time.After(3 * time.Second):
		t.Fatal("handshake never reached the server")
	}

	done := make(chan struct{})
	go func() {
		c.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked on the handshake")
	}
	select {
	case err := <-errc:
		if apierr.KindOf(err) != apierr.KindCancelled {
			t.Errorf("Connect = %v, want cancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
	}
	if c.State() != StateDisconnected() {
		t.Errorf("state = %s", c.State())
	}
}

func TestReconnectsAfterConnectionLoss(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok", DefaultSettings())
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	states := c.States()
	expectStates(t, states, StateConnected())

	fs.drop()
	expectStates(t, states, StateReconnecting(1), StateConnected())

	paths, _ := fs.snapshot()
	if len(paths) != 2 || paths[1] != "/stream/game-1" {
		t.Errorf("reconnect paths = %v", paths)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	fs := newFakeServer(t)
	s := DefaultSettings()
	s.MaxReconnectAttempts = 3
	c := newTestClient(t, fs, "tok", s)
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	states := c.States()
	expectStates(t, states, StateConnected())

	fs.reject.Store(http.StatusServiceUnavailable)
	fs.drop()
	expectStates(t, states,
		StateReconnecting(1),
		StateReconnecting(2),
		StateReconnecting(3),
		StateDisconnected(),
	)
	if err := c.Send("x"); apierr.KindOf(err) != apierr.KindNetworkUnavailable {
		t.Errorf("send after give-up: %v", err)
	}
}

func TestIntentionalDisconnectNeverReconnects(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok", DefaultSettings())
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	states := c.States()
	expectStates(t, states, StateConnected())

	c.Disconnect()
	expectStates(t, states, StateDisconnected())

	fs.drop()
	expectQuiet(t, states, 200*time.Millisecond)
	paths, _ := fs.snapshot()
	if len(paths) != 1 {
		t.Errorf("unexpected redial: %v", paths)
	}
}

func TestConnectToOtherTopicDisconnectsFirst(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok", DefaultSettings())
	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	states := c.States()
	expectStates(t, states, StateConnected())

	if err := c.Connect(context.Background(), "game-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background(), "game-2"); err != nil {
		t.Fatal(err)
	}
	expectStates(t, states, StateDisconnected(), StateConnecting(), StateConnected())
	paths, _ := fs.snapshot()
	if len(paths) != 2 || paths[1] != "/stream/game-2" {
		t.Errorf("paths = %v", paths)
	}
	if c.Topic() != "game-2" {
		t.Errorf("topic = %q", c.Topic())
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, "tok", DefaultSettings())
	states := c.States()
	msgs := c.Messages()
	c.Close()

	expectStates(t, states, StateDisconnected())
	select {
	case _, ok := <-states.C():
		if ok {
			t.Fatal("state stream should end")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("state stream did not end")
	}
	select {
	case _, ok := <-msgs.C():
		if ok {
			t.Fatal("message stream should end")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message stream did not end")
	}
}

func TestParseStreamURL(t *testing.T) {
	u, err := parseStreamURL("https://api.example.com/v1/stream")
	if err != nil || u.Scheme != "wss" {
		t.Fatalf("got %v, %v", u, err)
	}
	if _, err := parseStreamURL("ftp://example.com"); err == nil {
		t.Error("ftp should be rejected")
	}
}
