package signaling

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/identity"
)

const (
	writeWait     = 10 * time.Second
	outboxSize    = 64
	maxFrameBytes = 64 * 1024
)

// Server is a rendezvous service that relays session descriptions between
// peers registered under their public IDs. It never sees message content.
type Server struct {
	mu       sync.Mutex
	peers    map[string]*peer
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

type peer struct {
	id   string
	conn *websocket.Conn
	out  chan Envelope
	done chan struct{}
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// NewServer creates a signaling server. A nil logger uses the logrus
// standard logger.
func NewServer(logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		peers:  make(map[string]*peer),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes: GET /ws?id=<publicID> and GET /healthz.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Online returns the IDs currently registered, sorted.
func (s *Server) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close disconnects every peer.
func (s *Server) Close() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p != nil {
			peers = append(peers, p)
		}
	}
	s.peers = make(map[string]*peer)
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.peers)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "peers": n})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	logger := s.logger.WithFields(logrus.Fields{
		"function": "handleWS",
		"peer":     identity.Short(id),
		"remote":   r.RemoteAddr,
	})

	if err := identity.ValidatePublicID(id); err != nil {
		logger.WithError(err).Warn("Rejected registration with invalid ID")
		http.Error(w, "invalid public ID", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, taken := s.peers[id]; taken {
		s.mu.Unlock()
		logger.Warn("Rejected duplicate registration")
		http.Error(w, "duplicated public ID", http.StatusConflict)
		return
	}
	// reserve the slot until the upgrade completes
	s.peers[id] = nil
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.mu.Lock()
		delete(s.peers, id)
		s.mu.Unlock()
		logger.WithError(err).Error("Websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	p := &peer{id: id, conn: conn, out: make(chan Envelope, outboxSize), done: make(chan struct{})}
	s.mu.Lock()
	s.peers[id] = p
	s.mu.Unlock()
	logger.Info("Peer registered")

	go s.writeLoop(p)
	s.readLoop(p)

	s.mu.Lock()
	if s.peers[id] == p {
		delete(s.peers, id)
	}
	s.mu.Unlock()
	p.close()
	logger.Info("Peer unregistered")
}

func (s *Server) readLoop(p *peer) {
	for {
		var env Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithFields(logrus.Fields{
					"function": "readLoop",
					"peer":     identity.Short(p.id),
					"error":    err.Error(),
				}).Warn("Signaling connection lost")
			}
			return
		}
		env.From = p.id
		s.route(p, env)
	}
}

func (s *Server) route(from *peer, env Envelope) {
	logger := s.logger.WithFields(logrus.Fields{
		"function": "route",
		"type":     env.Type,
		"from":     identity.Short(env.From),
		"to":       identity.Short(env.To),
	})

	if env.Type != TypeOffer && env.Type != TypeAnswer {
		logger.Warn("Dropping envelope of unknown type")
		return
	}

	s.mu.Lock()
	target := s.peers[env.To]
	s.mu.Unlock()

	if target == nil {
		logger.Debug("Target not connected")
		s.push(from, Envelope{Type: TypeError, From: env.To, To: from.id, Error: ErrorPeerUnavailable})
		return
	}
	s.push(target, env)
	logger.Debug("Envelope relayed")
}

func (s *Server) push(p *peer, env Envelope) {
	select {
	case p.out <- env:
	case <-p.done:
	default:
		s.logger.WithFields(logrus.Fields{
			"function": "push",
			"peer":     identity.Short(p.id),
		}).Warn("Outbox full, dropping envelope")
	}
}

func (s *Server) writeLoop(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.out:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(env); err != nil {
				p.close()
				return
			}
		}
	}
}
