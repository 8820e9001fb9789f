package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"partyledger/internal/currency"
)

var ErrUnknownPacket = errors.New("unknown packet type")

type Kind string

const (
	KindBuy             Kind = "buy"
	KindLoot            Kind = "loot"
	KindLootCoins       Kind = "loot-coins"
	KindDistributeCoins Kind = "distribute-coins"
	KindError           Kind = "error"
	KindApplied         Kind = "applied"
)

// Packet is the closed set of messages carried on the shared channel.
// Every participant sees every packet; request packets are acted on
// only by the authority they name.
type Packet interface {
	Kind() Kind
}

type ItemLine struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type Buy struct {
	BuyerID     string `json:"buyerId"`
	ContainerID string `json:"containerId"`
	ItemID      string `json:"itemId"`
	Quantity    int    `json:"quantity"`
	AuthorityID string `json:"authorityId"`
}

func (Buy) Kind() Kind { return KindBuy }

type Loot struct {
	LooterID    string     `json:"looterId"`
	ContainerID string     `json:"containerId"`
	Items       []ItemLine `json:"items"`
	AuthorityID string     `json:"authorityId"`
}

func (Loot) Kind() Kind { return KindLoot }

type LootCoins struct {
	LooterID    string `json:"looterId"`
	ContainerID string `json:"containerId"`
	AuthorityID string `json:"authorityId"`
}

func (LootCoins) Kind() Kind { return KindLootCoins }

type DistributeCoins struct {
	LooterID    string `json:"looterId"`
	ContainerID string `json:"containerId"`
	AuthorityID string `json:"authorityId"`
}

func (DistributeCoins) Kind() Kind { return KindDistributeCoins }

// Error is addressed back to the requester whose precondition failed.
type Error struct {
	TargetID string `json:"targetId"`
	Message  string `json:"message"`
}

func (Error) Kind() Kind { return KindError }

type MovedLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Applied announces a successful mutation so every participant can
// refresh from the updated shared state.
type Applied struct {
	Request     Kind            `json:"request"`
	ActorID     string          `json:"actorId"`
	ContainerID string          `json:"containerId"`
	Items       []MovedLine     `json:"items,omitempty"`
	LedgerDelta currency.Ledger `json:"ledgerDelta,omitempty"`
}

func (Applied) Kind() Kind { return KindApplied }

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func Encode(p Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal packet: %w", err)
	}
	return json.Marshal(envelope{Type: p.Kind(), Data: data})
}

func Decode(raw []byte) (Packet, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	var p Packet
	switch env.Type {
	case KindBuy:
		p = &Buy{}
	case KindLoot:
		p = &Loot{}
	case KindLootCoins:
		p = &LootCoins{}
	case KindDistributeCoins:
		p = &DistributeCoins{}
	case KindError:
		p = &Error{}
	case KindApplied:
		p = &Applied{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacket, env.Type)
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s packet: %w", env.Type, err)
	}
	return deref(p), nil
}

// deref flattens the decode pointer so packets travel by value and type
// switches match the same shapes Encode accepts.
func deref(p Packet) Packet {
	switch v := p.(type) {
	case *Buy:
		return *v
	case *Loot:
		return *v
	case *LootCoins:
		return *v
	case *DistributeCoins:
		return *v
	case *Error:
		return *v
	case *Applied:
		return *v
	default:
		return p
	}
}

// AuthorityOf returns the authority a request packet is addressed to.
// Non-request packets carry no authority.
func AuthorityOf(p Packet) (string, bool) {
	switch v := p.(type) {
	case Buy:
		return v.AuthorityID, true
	case Loot:
		return v.AuthorityID, true
	case LootCoins:
		return v.AuthorityID, true
	case DistributeCoins:
		return v.AuthorityID, true
	default:
		return "", false
	}
}

// RequesterOf returns the participant that emitted a request packet.
func RequesterOf(p Packet) (string, bool) {
	switch v := p.(type) {
	case Buy:
		return v.BuyerID, true
	case Loot:
		return v.LooterID, true
	case LootCoins:
		return v.LooterID, true
	case DistributeCoins:
		return v.LooterID, true
	default:
		return "", false
	}
}
