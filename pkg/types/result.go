package types

import (
	"cmp"
	"slices"
)

// Key identifies a checked derivation together with the attribute that led
// to it.
type Key struct {
	Attr string
	Drv  string
}

// Result is the outcome of rebuilding one fixed-output derivation.
type Result struct {
	Attr         string `json:"attr"`
	Drv          string `json:"drv"`
	Reproducible bool   `json:"reproducible"`
}

// Results maps checked derivations to whether their rebuild matched.
type Results map[Key]bool

// Sorted returns the results ordered by attribute, then derivation path.
func (r Results) Sorted() []Result {
	out := make([]Result, 0, len(r))
	for k, ok := range r {
		out = append(out, Result{Attr: k.Attr, Drv: k.Drv, Reproducible: ok})
	}
	SortResults(out)
	return out
}

// SortResults orders results by attribute, then derivation path.
func SortResults(results []Result) {
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(a.Attr, b.Attr); c != 0 {
			return c
		}
		return cmp.Compare(a.Drv, b.Drv)
	})
}

// Summary counts results by outcome.
type Summary struct {
	Total          int `json:"total"`
	Reproducible   int `json:"reproducible"`
	Unreproducible int `json:"unreproducible"`
}

// Summarize counts the given results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Reproducible {
			s.Reproducible++
		} else {
			s.Unreproducible++
		}
	}
	return s
}
