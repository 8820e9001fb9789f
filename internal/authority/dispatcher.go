package authority

import (
	"partyledger/internal/models"
	"partyledger/internal/protocol"
)

// Dispatcher builds request packets on behalf of one participant and
// puts them on the shared channel. Authority selection and missing
// container checks happen locally, before anything is dispatched.
type Dispatcher struct {
	self   models.Participant
	roster Roster
	ch     Channel
}

func NewDispatcher(self models.Participant, roster Roster, ch Channel) *Dispatcher {
	return &Dispatcher{self: self, roster: roster, ch: ch}
}

func (d *Dispatcher) authority() (string, error) {
	gm, ok := d.roster.ActiveAuthority(d.self.Scene)
	if !ok {
		return "", ErrNoActiveAuthority
	}
	return gm.ID, nil
}

func (d *Dispatcher) Buy(containerID, itemID string, quantity int) error {
	if containerID == "" {
		return ErrNoActiveContainer
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	auth, err := d.authority()
	if err != nil {
		return err
	}
	d.ch.Broadcast(protocol.Buy{
		BuyerID:     d.self.ID,
		ContainerID: containerID,
		ItemID:      itemID,
		Quantity:    quantity,
		AuthorityID: auth,
	})
	return nil
}

func (d *Dispatcher) Loot(containerID string, items []protocol.ItemLine) error {
	if containerID == "" {
		return ErrNoActiveContainer
	}
	auth, err := d.authority()
	if err != nil {
		return err
	}
	d.ch.Broadcast(protocol.Loot{
		LooterID:    d.self.ID,
		ContainerID: containerID,
		Items:       items,
		AuthorityID: auth,
	})
	return nil
}

func (d *Dispatcher) LootCoins(containerID string) error {
	if containerID == "" {
		return ErrNoActiveContainer
	}
	auth, err := d.authority()
	if err != nil {
		return err
	}
	d.ch.Broadcast(protocol.LootCoins{
		LooterID:    d.self.ID,
		ContainerID: containerID,
		AuthorityID: auth,
	})
	return nil
}

func (d *Dispatcher) DistributeCoins(containerID string) error {
	if containerID == "" {
		return ErrNoActiveContainer
	}
	auth, err := d.authority()
	if err != nil {
		return err
	}
	d.ch.Broadcast(protocol.DistributeCoins{
		LooterID:    d.self.ID,
		ContainerID: containerID,
		AuthorityID: auth,
	})
	return nil
}
