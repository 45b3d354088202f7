package mockserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/nghyane/gameday-net/internal/logging"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const peerWriteWait = 5 * time.Second

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(peerWriteWait))
	return p.conn.WriteMessage(messageType, data)
}

func (s *Server) handleStream(c *gin.Context) {
	if err := s.tokens.verify(bearer(c)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	topic := c.Param("topic")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("mock stream upgrade failed: %v", err)
		return
	}
	p := &peer{conn: conn}
	s.addPeer(topic, p)
	log.WithField("topic", topic).Debug("mock stream peer connected")
	defer func() {
		s.removePeer(topic, p)
		_ = conn.Close()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage && gjson.GetBytes(data, "type").String() == "ping" {
			pong, _ := sjson.SetBytes([]byte(`{"type":"pong"}`), "payload", gjson.GetBytes(data, "payload").Value())
			if err := p.write(websocket.TextMessage, pong); err != nil {
				return
			}
			continue
		}
		s.mu.Lock()
		s.inbox[topic] = append(s.inbox[topic], append([]byte(nil), data...))
		s.mu.Unlock()
	}
}

func (s *Server) addPeer(topic string, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := s.topics[topic]
	if peers == nil {
		peers = make(map[*peer]struct{})
		s.topics[topic] = peers
	}
	peers[p] = struct{}{}
}

func (s *Server) removePeer(topic string, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics[topic], p)
	if len(s.topics[topic]) == 0 {
		delete(s.topics, topic)
	}
}

func (s *Server) peers(topic string) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.topics[topic]))
	for p := range s.topics[topic] {
		out = append(out, p)
	}
	return out
}

// Broadcast writes frame to every peer subscribed to topic and reports how
// many accepted it.
func (s *Server) Broadcast(topic string, frame []byte) int {
	delivered := 0
	for _, p := range s.peers(topic) {
		if err := p.write(websocket.TextMessage, frame); err != nil {
			log.Debugf("mock broadcast to %s failed: %v", topic, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Subscribers reports the number of open peers on topic.
func (s *Server) Subscribers(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics[topic])
}

// Received returns copies of the non-ping frames peers sent on topic.
func (s *Server) Received(topic string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.inbox[topic]))
	copy(out, s.inbox[topic])
	return out
}

// DropPeers closes every stream connection without a close handshake, the
// way a lost network path looks to the client.
func (s *Server) DropPeers(topic string) int {
	peers := s.peers(topic)
	for _, p := range peers {
		_ = p.conn.Close()
	}
	return len(peers)
}

func (s *Server) closeAllPeers() {
	s.mu.Lock()
	var all []*peer
	for _, peers := range s.topics {
		for p := range peers {
			all = append(all, p)
		}
	}
	s.mu.Unlock()
	for _, p := range all {
		_ = p.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
		_ = p.conn.Close()
	}
}
