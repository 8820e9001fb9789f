package hub

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"partyledger/internal/models"
	"partyledger/internal/protocol"
	"partyledger/pkg"
)

// Hub owns the live participant roster and their websocket connections.
// Every packet that reaches the channel is fanned out to all
// subscribers; delivery is at-most-once best-effort, with no
// acknowledgment or retry. At most one GM per scene is the active
// authority: the first privileged join wins and the role hands over
// when that participant disconnects.
type Hub struct {
	mu           sync.Mutex
	participants map[string]models.Participant
	subscribers  map[string]*subscriber
	activeGM     map[string]string
	onPacket     func(protocol.Packet)
	log          pkg.Logger
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func New(log pkg.Logger) *Hub {
	return &Hub{
		participants: make(map[string]models.Participant),
		subscribers:  make(map[string]*subscriber),
		activeGM:     make(map[string]string),
		log:          log,
	}
}

// SetHandler installs the callback invoked for every packet put on the
// channel.
func (h *Hub) SetHandler(fn func(protocol.Packet)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPacket = fn
}

// Join registers a participant. A nil conn registers roster presence
// without a subscription, which is how tests drive the hub.
func (h *Hub) Join(p models.Participant, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.subscribers[p.ID]; ok {
		existing.conn.Close()
		delete(h.subscribers, p.ID)
	}
	h.participants[p.ID] = p
	if conn != nil {
		h.subscribers[p.ID] = &subscriber{conn: conn}
	}
	if p.GM {
		if _, taken := h.activeGM[p.Scene]; !taken {
			h.activeGM[p.Scene] = p.ID
			h.log.Info("authority assigned",
				zap.String("scene", p.Scene),
				zap.String("participant", p.ID))
		}
	}
}

// Leave drops a participant. If it held the authority for its scene,
// another connected GM on the same scene takes over.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.participants[id]
	if !ok {
		return
	}
	if sub, subOK := h.subscribers[id]; subOK {
		sub.conn.Close()
		delete(h.subscribers, id)
	}
	delete(h.participants, id)

	if h.activeGM[p.Scene] == id {
		delete(h.activeGM, p.Scene)
		for _, other := range h.participants {
			if other.GM && other.Scene == p.Scene {
				h.activeGM[p.Scene] = other.ID
				h.log.Info("authority handed over",
					zap.String("scene", p.Scene),
					zap.String("participant", other.ID))
				break
			}
		}
	}
}

func (h *Hub) ActiveAuthority(scene string) (models.Participant, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.activeGM[scene]
	if !ok {
		return models.Participant{}, false
	}
	p, ok := h.participants[id]
	return p, ok
}

func (h *Hub) Participant(id string) (models.Participant, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.participants[id]
	return p, ok
}

func (h *Hub) Participants(scene string) []models.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.Participant
	for _, p := range h.participants {
		if p.Scene == scene {
			out = append(out, p)
		}
	}
	return out
}

// Broadcast puts a packet on the channel: every subscriber gets a copy
// and the installed handler runs. Write failures drop the connection;
// the packet is simply lost for that participant.
func (h *Hub) Broadcast(p protocol.Packet) {
	data, err := protocol.Encode(p)
	if err != nil {
		h.log.Error("failed to encode packet", zap.Error(err))
		return
	}

	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	handler := h.onPacket
	h.mu.Unlock()

	for id, sub := range subs {
		if err := sub.write(data); err != nil {
			h.log.Warn("dropping subscriber",
				zap.String("participant", id),
				zap.Error(err))
			h.Leave(id)
		}
	}

	if handler != nil {
		handler(p)
	}
}

// Send writes a packet to a single participant. A missing or dead
// subscriber means the packet is silently dropped.
func (h *Hub) Send(id string, p protocol.Packet) {
	data, err := protocol.Encode(p)
	if err != nil {
		h.log.Error("failed to encode packet", zap.Error(err))
		return
	}

	h.mu.Lock()
	sub, ok := h.subscribers[id]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := sub.write(data); err != nil {
		h.log.Warn("dropping subscriber",
			zap.String("participant", id),
			zap.Error(err))
		h.Leave(id)
	}
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadLoop consumes packets from one participant's connection until it
// closes, putting each valid packet back on the channel.
func (h *Hub) ReadLoop(id string, conn *websocket.Conn) {
	defer h.Leave(id)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		pkt, err := protocol.Decode(raw)
		if err != nil {
			h.log.Warn("discarding malformed packet",
				zap.String("participant", id),
				zap.Error(err))
			continue
		}
		h.Broadcast(pkt)
	}
}
