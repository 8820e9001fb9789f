package authority

import (
	"errors"

	"partyledger/internal/models"
	"partyledger/internal/protocol"
)

var (
	ErrNoActiveAuthority = errors.New("no active authority for scene")
	ErrNoActiveContainer = errors.New("no active container")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrUnknownRequester  = errors.New("unknown requester")
	ErrNoObservers       = errors.New("no eligible observers")
)

// Channel is what this layer needs from the transport: at-most-once,
// fire-and-forget delivery. A dropped packet is never retried; the
// requester simply sees no effect.
type Channel interface {
	Broadcast(p protocol.Packet)
	Send(participantID string, p protocol.Packet)
}

// Roster exposes the live participant set the hub maintains.
type Roster interface {
	ActiveAuthority(scene string) (models.Participant, bool)
	Participant(id string) (models.Participant, bool)
	Participants(scene string) []models.Participant
}
