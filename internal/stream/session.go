package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/nghyane/gameday-net/internal/logging"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var errNoChannel = errors.New("stream: no open channel")

// session is one logical subscription. It outlives individual connections:
// reconnection swaps conn while id, topic and ctx stay the same.
type session struct {
	id     string
	topic  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu guards conn and closed, and serializes data frame writes.
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	lastSeen atomic.Int64
}

func newSession(topic string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:     uuid.NewString(),
		topic:  topic,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *session) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastSeen.Load()))
}

// setConn installs conn unless the session was shut down, in which case conn
// is closed and false returned.
func (s *session) setConn(conn *websocket.Conn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return false
	}
	s.conn = conn
	s.mu.Unlock()
	s.touch()
	return true
}

func (s *session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.closed {
		return errNoChannel
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// drop detaches conn if it is still current and closes it.
func (s *session) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// shutdown sends a normal closure frame and closes the connection. After it
// returns, setConn refuses new connections.
func (s *session) shutdown() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

// serve runs the receive loop on the calling goroutine and the heartbeat
// beside it until the connection fails or is closed.
func (c *Client) serve(sess *session, conn *websocket.Conn) error {
	conn.SetPingHandler(func(appData string) error {
		sess.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == nil || errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		sess.touch()
		return nil
	})

	hbCtx, stopHeartbeat := context.WithCancel(sess.ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		c.heartbeat(hbCtx, sess, conn)
	}()

	err := c.readLoop(sess, conn)
	stopHeartbeat()
	<-hbDone
	sess.drop(conn)
	return err
}

func (c *Client) readLoop(sess *session, conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		sess.touch()

		switch messageType {
		case websocket.BinaryMessage:
			c.messages.Publish(Raw{Data: data})
		case websocket.TextMessage:
			switch envelopeType(data) {
			case TypePing:
				if err := sess.write(websocket.TextMessage, pongFrame(data)); err != nil {
					return err
				}
			case TypePong:
			default:
				c.messages.Publish(Decode(data))
			}
		}
	}
}

// heartbeat probes the peer every interval. A failed write, or silence for
// two intervals, closes conn so the receive loop fails into reconnection.
func (c *Client) heartbeat(ctx context.Context, sess *session, conn *websocket.Conn) {
	interval := c.Settings().HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if next := c.Settings().HeartbeatInterval; next != interval {
			interval = next
			ticker.Reset(interval)
		}
		if idle := sess.idle(); idle > 2*interval {
			log.WithFields(log.Fields{"session_id": sess.id, "idle": idle.String()}).Warn("stream heartbeat timeout")
			_ = conn.Close()
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			log.WithField("session_id", sess.id).WithError(err).Warn("stream heartbeat failed")
			_ = conn.Close()
			return
		}
		if err := sess.write(websocket.TextMessage, pingFrame(time.Now())); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithField("session_id", sess.id).WithError(err).Warn("stream heartbeat failed")
			_ = conn.Close()
			return
		}
	}
}

func pingFrame(now time.Time) []byte {
	frame, err := sjson.SetBytes([]byte(`{"type":"ping"}`), "payload.sent_at", now.UnixMilli())
	if err != nil {
		return []byte(`{"type":"ping"}`)
	}
	return frame
}

// pongFrame answers a ping envelope, echoing its payload.
func pongFrame(ping []byte) []byte {
	frame := []byte(`{"type":"pong"}`)
	if payload := gjson.GetBytes(ping, "payload"); payload.Exists() {
		if out, err := sjson.SetRawBytes(frame, "payload", []byte(payload.Raw)); err == nil {
			frame = out
		}
	}
	return frame
}
