package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

var ErrInvalidFormula = errors.New("invalid dice formula")

// Eval rolls a quantity formula such as "3", "1d6" or "2d4+1": terms of
// NdS dice groups or integer constants joined by + and -. The result is
// deterministic with respect to the provided rng. Totals below zero
// clamp to zero.
func Eval(formula string, rng *rand.Rand) (int, error) {
	s := strings.ReplaceAll(formula, " ", "")
	if s == "" {
		return 0, fmt.Errorf("%w: empty formula", ErrInvalidFormula)
	}
	if s[0] != '+' && s[0] != '-' {
		s = "+" + s
	}

	total := 0
	i := 0
	for i < len(s) {
		sign := 1
		if s[i] == '-' {
			sign = -1
		} else if s[i] != '+' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
		}
		i++
		j := i
		for j < len(s) && s[j] != '+' && s[j] != '-' {
			j++
		}
		value, err := evalTerm(s[i:j], formula, rng)
		if err != nil {
			return 0, err
		}
		total += sign * value
		i = j
	}

	if total < 0 {
		total = 0
	}
	return total, nil
}

func evalTerm(term, formula string, rng *rand.Rand) (int, error) {
	if term == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}

	countStr, sidesStr, isDice := strings.Cut(term, "d")
	if !isDice {
		n, err := strconv.Atoi(term)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
		}
		return n, nil
	}

	count := 1
	if countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
		}
		count = n
	}
	sides, err := strconv.Atoi(sidesStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}
	if count <= 0 || sides <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}

	total := 0
	for k := 0; k < count; k++ {
		total += rng.Intn(sides) + 1
	}
	return total, nil
}
