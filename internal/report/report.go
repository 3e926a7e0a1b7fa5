// Package report renders check results as text lines or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/derivation"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

// Entry is the JSON form of a result. The hash fields are filled from the
// derivation file when it is still readable.
type Entry struct {
	Attr         string `json:"attr"`
	Drv          string `json:"drv"`
	Reproducible bool   `json:"reproducible"`
	HashAlgo     string `json:"hash_algo,omitempty"`
	Hash         string `json:"hash,omitempty"`
}

// Line formats a single result.
func Line(r types.Result) string {
	if r.Reproducible {
		return fmt.Sprintf("FOD from %s at %s is reproducible", r.Attr, r.Drv)
	}
	return fmt.Sprintf("FOD from %s at %s is not reproducible", r.Attr, r.Drv)
}

// Select returns the results to show. Unless all is set only unreproducible
// results are kept. The returned slice is sorted.
func Select(results []types.Result, all bool) []types.Result {
	out := make([]types.Result, 0, len(results))
	for _, r := range results {
		if all || !r.Reproducible {
			out = append(out, r)
		}
	}
	types.SortResults(out)
	return out
}

// WriteText writes one line per selected result.
func WriteText(w io.Writer, results []types.Result, all bool) error {
	for _, r := range Select(results, all) {
		if _, err := fmt.Fprintln(w, Line(r)); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes the selected results as an indented JSON array.
func WriteJSON(w io.Writer, results []types.Result, all bool) error {
	selected := Select(results, all)
	entries := make([]Entry, 0, len(selected))
	for _, r := range selected {
		entries = append(entries, entry(r))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func entry(r types.Result) Entry {
	e := Entry{Attr: r.Attr, Drv: r.Drv, Reproducible: r.Reproducible}
	if out, err := derivation.FixedOutput(r.Drv); err == nil {
		e.HashAlgo = out.HashAlgo
		e.Hash = out.Hash
	}
	return e
}
