package inventory

import (
	"errors"

	"partyledger/internal/currency"
)

var ErrItemNotFound = errors.New("item not found in inventory")

// Stack is one inventory line: an item kind and how many of it the
// holder carries.
type Stack struct {
	ID       string
	Name     string
	Quantity int
	Price    currency.Price
	Weight   float64
}

type MoveRequest struct {
	ItemID   string
	Quantity int
}

// Moved reports what one request line actually transferred, for
// notification purposes.
type Moved struct {
	Stack    Stack
	Quantity int
}

type QuantityUpdate struct {
	ID       string
	Quantity int
}

// Plan is one holder's batched mutation set. Stores apply the phases in
// order, whole phase at a time: deletes, then updates, then creates.
type Plan struct {
	Deletes []string
	Updates []QuantityUpdate
	Creates []Stack
}

func (p Plan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Updates) == 0 && len(p.Creates) == 0
}

// Move plans transferring the requested quantities from source to dest.
// Requested quantities clamp to what the source actually holds; lines
// that clamp to zero or below, and lines naming an absent stack, are
// skipped. A source stack drained to zero is deleted rather than left
// empty. At the destination a stack with the same display name absorbs
// the moved quantity, otherwise a new stack is created.
func Move(source, dest []Stack, reqs []MoveRequest) (Plan, Plan, []Moved) {
	remaining := make(map[string]int, len(source))
	byID := make(map[string]Stack, len(source))
	for _, st := range source {
		byID[st.ID] = st
		remaining[st.ID] = st.Quantity
	}
	destQty := make(map[string]int, len(dest))
	destID := make(map[string]string, len(dest))
	for _, st := range dest {
		destQty[st.Name] = st.Quantity
		destID[st.Name] = st.ID
	}

	var (
		moved       []Moved
		touched     []string
		mergeOrder  []string
		createOrder []string
	)
	touchedSet := make(map[string]bool)
	mergeQty := make(map[string]int)
	createQty := make(map[string]int)
	createTmpl := make(map[string]Stack)

	for _, req := range reqs {
		st, ok := byID[req.ItemID]
		if !ok {
			continue
		}
		qty := req.Quantity
		if qty > remaining[st.ID] {
			qty = remaining[st.ID]
		}
		if qty <= 0 {
			continue
		}
		remaining[st.ID] -= qty
		if !touchedSet[st.ID] {
			touchedSet[st.ID] = true
			touched = append(touched, st.ID)
		}

		if id, exists := destID[st.Name]; exists {
			if _, started := mergeQty[id]; !started {
				mergeQty[id] = destQty[st.Name]
				mergeOrder = append(mergeOrder, id)
			}
			mergeQty[id] += qty
		} else {
			if _, started := createQty[st.Name]; !started {
				createOrder = append(createOrder, st.Name)
				createTmpl[st.Name] = st
			}
			createQty[st.Name] += qty
		}
		moved = append(moved, Moved{Stack: st, Quantity: qty})
	}

	var srcPlan, dstPlan Plan
	for _, id := range touched {
		if remaining[id] == 0 {
			srcPlan.Deletes = append(srcPlan.Deletes, id)
		} else {
			srcPlan.Updates = append(srcPlan.Updates, QuantityUpdate{ID: id, Quantity: remaining[id]})
		}
	}
	for _, id := range mergeOrder {
		dstPlan.Updates = append(dstPlan.Updates, QuantityUpdate{ID: id, Quantity: mergeQty[id]})
	}
	for _, name := range createOrder {
		st := createTmpl[name]
		st.Quantity = createQty[name]
		dstPlan.Creates = append(dstPlan.Creates, st)
	}
	return srcPlan, dstPlan, moved
}
