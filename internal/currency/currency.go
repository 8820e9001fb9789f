package currency

import (
	"errors"
	"math"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type Denomination string

const (
	Platinum Denomination = "pp"
	Gold     Denomination = "gp"
	Electrum Denomination = "ep"
	Silver   Denomination = "sp"
	Copper   Denomination = "cp"
)

// Reference is the denomination all value comparisons are made in.
const Reference = Gold

// Rates holds how many units of each denomination make up one gold piece.
var Rates = map[Denomination]float64{
	Platinum: 0.1,
	Gold:     1,
	Electrum: 2,
	Silver:   10,
	Copper:   100,
}

// Descending orders denominations from most to least valuable.
var Descending = []Denomination{Platinum, Gold, Electrum, Silver, Copper}

// CompensationChain names, per denomination, where its fractional
// remainder goes during smoothing. Electrum is deliberately absent on
// both sides: it is smoothed on its own and neither donates nor receives
// fractions. Copper is the chain tail; whatever fraction it ends up with
// is floored away.
var CompensationChain = map[Denomination]Denomination{
	Platinum: Gold,
	Gold:     Silver,
	Silver:   Copper,
}

// Ledger maps denominations to held amounts. Amounts may go fractional
// while a transfer is in flight but are integerized by Smooth before
// they reach the store.
type Ledger map[Denomination]float64

func New() Ledger {
	l := make(Ledger, len(Descending))
	for _, d := range Descending {
		l[d] = 0
	}
	return l
}

// Normalize returns a copy with every denomination present.
func (l Ledger) Normalize() Ledger {
	out := New()
	for d, amt := range l {
		out[d] = amt
	}
	return out
}

// Add returns a copy of l with every denomination of other added in.
func (l Ledger) Add(other Ledger) Ledger {
	out := l.Normalize()
	for d, amt := range other {
		out[d] += amt
	}
	return out
}

type Price struct {
	Amount       float64
	Denomination Denomination
}

// InReference converts a unit price to gold pieces.
func (p Price) InReference() float64 {
	rate, ok := Rates[p.Denomination]
	if !ok || rate == 0 {
		return p.Amount
	}
	return p.Amount / rate
}

// ToReference sums the ledger's total value in gold pieces.
func ToReference(l Ledger) float64 {
	total := 0.0
	for d, amt := range l {
		rate, ok := Rates[d]
		if !ok || rate == 0 {
			continue
		}
		total += amt / rate
	}
	return total
}

// Smooth integerizes a ledger. Denominations are visited from most to
// least valuable; each amount is rounded to 5 decimal places to shake
// off float noise, floored, and the fraction is pushed down the
// compensation chain converted at the rate ratio. The chain tail's
// residual fraction is discarded, an accepted lossy step worth less
// than one copper.
func Smooth(l Ledger) Ledger {
	out := l.Normalize()
	for _, d := range Descending {
		amt := math.Round(out[d]*1e5) / 1e5
		whole := math.Floor(amt)
		if next, ok := CompensationChain[d]; ok {
			frac := amt - whole
			if frac > 0 {
				out[next] += frac * (Rates[next] / Rates[d])
			}
		}
		out[d] = whole
	}
	return out
}

// ApplyTransfer moves cost gold pieces from buyer to seller. The debit
// and credit land in the reference slot only; both ledgers are then
// smoothed independently. Fails without touching either ledger when the
// buyer's total value cannot cover the cost.
//
// Smoothing pushes value down the chain, never up, so when the cost
// exceeds the buyer's reference slot alone the slot persists negative
// while lower denominations keep covering the difference. Total value
// stays non-negative and is conserved.
func ApplyTransfer(buyer, seller Ledger, cost float64) (Ledger, Ledger, error) {
	if cost > ToReference(buyer) {
		return nil, nil, ErrInsufficientFunds
	}
	b := buyer.Normalize()
	s := seller.Normalize()
	b[Reference] -= cost
	s[Reference] += cost
	return Smooth(b), Smooth(s), nil
}

// Split divides a ledger between n recipients: each denomination is
// floor-divided, the per-recipient share is returned first and whatever
// does not divide evenly stays in the remainder.
func Split(l Ledger, n int) (Ledger, Ledger) {
	share := New()
	remainder := New()
	if n <= 0 {
		return share, l.Normalize()
	}
	norm := l.Normalize()
	for _, d := range Descending {
		amt := math.Floor(norm[d])
		per := math.Floor(amt / float64(n))
		share[d] = per
		remainder[d] = amt - per*float64(n)
	}
	return share, remainder
}
