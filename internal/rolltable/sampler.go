package rolltable

import (
	"fmt"
	"math/rand"
)

// Draw performs n independent weighted rolls against the table; entries
// may repeat.
func Draw(t *Table, n int, rng *rand.Rand) []Entry {
	out := make([]Entry, 0, n)
	total := t.TotalWeight()
	if total == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		roll := rng.Intn(total)
		for _, e := range t.Entries {
			w := weightOf(e)
			if roll < w {
				out = append(out, e)
				break
			}
			roll -= w
		}
	}
	return out
}

// DrawUnique returns n distinct entries while keeping each entry's
// chance of inclusion proportional to its weight: the candidate pool
// repeats every entry weight times, is shuffled uniformly, and is then
// consumed front to back until it has covered n distinct entries.
func DrawUnique(t *Table, n int, rng *rand.Rand) ([]Entry, error) {
	if n > len(t.Entries) {
		return nil, fmt.Errorf("%w: want %d of %d", ErrInsufficientUnique, n, len(t.Entries))
	}

	pool := make([]int, 0, t.TotalWeight())
	for i := range t.Entries {
		for k := 0; k < weightOf(t.Entries[i]); k++ {
			pool = append(pool, i)
		}
	}
	rng.Shuffle(len(pool), func(a, b int) {
		pool[a], pool[b] = pool[b], pool[a]
	})

	seen := make(map[int]struct{}, n)
	out := make([]Entry, 0, n)
	for _, idx := range pool {
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, t.Entries[idx])
		if len(out) == n {
			break
		}
	}
	return out, nil
}
