package authority

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"partyledger/internal/currency"
	"partyledger/internal/inventory"
	"partyledger/internal/models"
	"partyledger/internal/protocol"
	"partyledger/internal/store"
	"partyledger/pkg"
)

// Processor applies request packets on behalf of the authority they
// name. A packet is processed only when its authority is live and
// privileged; everything else is discarded silently. Processing is
// serialized per container, and all state is re-read from the store at
// the top of each request so stale quantities captured at request-build
// time are never trusted.
type Processor struct {
	store  store.Store
	roster Roster
	ch     Channel
	locks  *store.ContainerLocks
	log    pkg.Logger
}

func NewProcessor(st store.Store, roster Roster, ch Channel, locks *store.ContainerLocks, log pkg.Logger) *Processor {
	return &Processor{
		store:  st,
		roster: roster,
		ch:     ch,
		locks:  locks,
		log:    log,
	}
}

// Handle consumes one packet off the channel.
func (p *Processor) Handle(ctx context.Context, pkt protocol.Packet) {
	authorityID, ok := protocol.AuthorityOf(pkt)
	if !ok {
		return
	}
	gm, live := p.roster.Participant(authorityID)
	if !live || !gm.GM {
		return
	}

	var err error
	switch req := pkt.(type) {
	case protocol.Buy:
		err = p.buy(ctx, req)
	case protocol.Loot:
		err = p.loot(ctx, req)
	case protocol.LootCoins:
		err = p.lootCoins(ctx, req)
	case protocol.DistributeCoins:
		err = p.distributeCoins(ctx, req)
	default:
		return
	}

	if err != nil {
		requester, _ := protocol.RequesterOf(pkt)
		p.log.Warn("request rejected",
			zap.String("kind", string(pkt.Kind())),
			zap.String("requester", requester),
			zap.Error(err))
		p.ch.Send(requester, protocol.Error{TargetID: requester, Message: err.Error()})
	}
}

func (p *Processor) actorOf(participantID string) (string, error) {
	part, ok := p.roster.Participant(participantID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRequester, participantID)
	}
	return part.ActorID, nil
}

func (p *Processor) container(ctx context.Context, id string) (*models.Container, error) {
	cont, err := p.store.Container(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNoActiveContainer, id)
	}
	return cont, nil
}

func (p *Processor) buy(ctx context.Context, req protocol.Buy) error {
	if req.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	buyerActor, err := p.actorOf(req.BuyerID)
	if err != nil {
		return err
	}

	lock := p.locks.For(req.ContainerID)
	lock.Lock()
	defer lock.Unlock()

	cont, err := p.container(ctx, req.ContainerID)
	if err != nil {
		return err
	}

	stock, err := p.store.ReadInventory(ctx, cont.ID)
	if err != nil {
		return err
	}
	var stack *inventory.Stack
	for i := range stock {
		if stock[i].ID == req.ItemID {
			stack = &stock[i]
			break
		}
	}
	if stack == nil || stack.Quantity <= 0 {
		return fmt.Errorf("%w: %q", inventory.ErrItemNotFound, req.ItemID)
	}
	quantity := req.Quantity
	if quantity > stack.Quantity {
		quantity = stack.Quantity
	}

	modifier := cont.PriceModifier
	if modifier <= 0 {
		modifier = 1
	}
	cost := stack.Price.InReference() * modifier * float64(quantity)

	buyerLedger, err := p.store.ReadLedger(ctx, buyerActor)
	if err != nil {
		return err
	}
	sellerLedger, err := p.store.ReadLedger(ctx, cont.ID)
	if err != nil {
		return err
	}
	buyerAfter, sellerAfter, err := currency.ApplyTransfer(buyerLedger, sellerLedger, cost)
	if err != nil {
		return err
	}

	buyerInv, err := p.store.ReadInventory(ctx, buyerActor)
	if err != nil {
		return err
	}
	srcPlan, dstPlan, moved := inventory.Move(stock, buyerInv,
		[]inventory.MoveRequest{{ItemID: req.ItemID, Quantity: quantity}})

	if err := p.store.WriteLedger(ctx, buyerActor, buyerAfter); err != nil {
		return err
	}
	if err := p.store.WriteLedger(ctx, cont.ID, sellerAfter); err != nil {
		return err
	}
	if err := p.store.ApplyInventoryOps(ctx, cont.ID, srcPlan); err != nil {
		return err
	}
	if err := p.store.ApplyInventoryOps(ctx, buyerActor, dstPlan); err != nil {
		return err
	}

	p.ch.Broadcast(protocol.Applied{
		Request:     protocol.KindBuy,
		ActorID:     buyerActor,
		ContainerID: cont.ID,
		Items:       movedLines(moved),
		LedgerDelta: currency.Ledger{currency.Reference: cost},
	})
	return nil
}

func (p *Processor) loot(ctx context.Context, req protocol.Loot) error {
	looterActor, err := p.actorOf(req.LooterID)
	if err != nil {
		return err
	}

	lock := p.locks.For(req.ContainerID)
	lock.Lock()
	defer lock.Unlock()

	cont, err := p.container(ctx, req.ContainerID)
	if err != nil {
		return err
	}

	stock, err := p.store.ReadInventory(ctx, cont.ID)
	if err != nil {
		return err
	}
	looterInv, err := p.store.ReadInventory(ctx, looterActor)
	if err != nil {
		return err
	}

	reqs := make([]inventory.MoveRequest, 0, len(req.Items))
	for _, line := range req.Items {
		reqs = append(reqs, inventory.MoveRequest{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	srcPlan, dstPlan, moved := inventory.Move(stock, looterInv, reqs)

	if err := p.store.ApplyInventoryOps(ctx, cont.ID, srcPlan); err != nil {
		return err
	}
	if err := p.store.ApplyInventoryOps(ctx, looterActor, dstPlan); err != nil {
		return err
	}

	p.ch.Broadcast(protocol.Applied{
		Request:     protocol.KindLoot,
		ActorID:     looterActor,
		ContainerID: cont.ID,
		Items:       movedLines(moved),
	})
	return nil
}

func (p *Processor) lootCoins(ctx context.Context, req protocol.LootCoins) error {
	looterActor, err := p.actorOf(req.LooterID)
	if err != nil {
		return err
	}

	lock := p.locks.For(req.ContainerID)
	lock.Lock()
	defer lock.Unlock()

	cont, err := p.container(ctx, req.ContainerID)
	if err != nil {
		return err
	}

	taken, err := p.store.ReadLedger(ctx, cont.ID)
	if err != nil {
		return err
	}
	looterLedger, err := p.store.ReadLedger(ctx, looterActor)
	if err != nil {
		return err
	}

	if err := p.store.WriteLedger(ctx, looterActor, looterLedger.Add(taken)); err != nil {
		return err
	}
	if err := p.store.WriteLedger(ctx, cont.ID, currency.New()); err != nil {
		return err
	}

	p.ch.Broadcast(protocol.Applied{
		Request:     protocol.KindLootCoins,
		ActorID:     looterActor,
		ContainerID: cont.ID,
		LedgerDelta: taken,
	})
	return nil
}

func (p *Processor) distributeCoins(ctx context.Context, req protocol.DistributeCoins) error {
	lock := p.locks.For(req.ContainerID)
	lock.Lock()
	defer lock.Unlock()

	cont, err := p.container(ctx, req.ContainerID)
	if err != nil {
		return err
	}

	var observers []models.Participant
	for _, part := range p.roster.Participants(cont.Scene) {
		if cont.Permissions[part.ID] >= models.PermissionObserver {
			observers = append(observers, part)
		}
	}
	if len(observers) == 0 {
		return ErrNoObservers
	}

	pot, err := p.store.ReadLedger(ctx, cont.ID)
	if err != nil {
		return err
	}
	share, remainder := currency.Split(pot, len(observers))

	for _, obs := range observers {
		ledger, err := p.store.ReadLedger(ctx, obs.ActorID)
		if err != nil {
			return err
		}
		if err := p.store.WriteLedger(ctx, obs.ActorID, ledger.Add(share)); err != nil {
			return err
		}
	}
	// The remainder stays with the container on purpose; it is not
	// discarded and not given to anyone.
	if err := p.store.WriteLedger(ctx, cont.ID, remainder); err != nil {
		return err
	}

	p.ch.Broadcast(protocol.Applied{
		Request:     protocol.KindDistributeCoins,
		ContainerID: cont.ID,
		LedgerDelta: share,
	})
	return nil
}

func movedLines(moved []inventory.Moved) []protocol.MovedLine {
	lines := make([]protocol.MovedLine, 0, len(moved))
	for _, m := range moved {
		lines = append(lines, protocol.MovedLine{Name: m.Stack.Name, Quantity: m.Quantity})
	}
	return lines
}
