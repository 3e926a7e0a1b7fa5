// Package derivation inspects Nix derivation (.drv) files.
package derivation

import (
	"fmt"
	"os"
	"regexp"
)

// fodPattern matches a derivation whose first output tuple carries a hash
// algorithm and hash, which is what makes it fixed-output.
var fodPattern = regexp.MustCompile(`^Derive\(\s*\[\s*\(\s*"(?:[^"]+)"\s*,\s*"(?:[^"]+)"\s*,\s*"(?:[^"]+)"\s*,\s*"(?:[^"]+)"\s*\)`)

// outputsStart matches the opening of a Derive term up to its output list.
var outputsStart = regexp.MustCompile(`^Derive\(\s*\[`)

// outputPattern matches one output tuple: (name, path, hashAlgo, hash).
var outputPattern = regexp.MustCompile(`\(\s*"([^"]*)"\s*,\s*"([^"]*)"\s*,\s*"([^"]*)"\s*,\s*"([^"]*)"\s*\)`)

// Output is one entry of a derivation's output list.
type Output struct {
	Name     string
	Path     string
	HashAlgo string
	Hash     string
}

// Fixed reports whether the output has a pinned hash.
func (o Output) Fixed() bool {
	return o.HashAlgo != "" && o.Hash != ""
}

// IsFOD reports whether the derivation text describes a fixed-output derivation.
func IsFOD(data []byte) bool {
	return fodPattern.Match(data)
}

// IsFODFile reads the derivation at path and reports whether it is a
// fixed-output derivation.
func IsFODFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading derivation %s: %w", path, err)
	}
	return IsFOD(data), nil
}

// ParseOutputs returns the output list of a derivation. It returns
// ErrMalformed when the text does not start with a Derive term.
func ParseOutputs(data []byte) ([]Output, error) {
	loc := outputsStart.FindIndex(data)
	if loc == nil {
		return nil, ErrMalformed
	}
	start := loc[1]

	end := outputsEnd(data[start:])
	if end < 0 {
		return nil, ErrMalformed
	}
	list := data[start : start+end]

	var outputs []Output
	for _, m := range outputPattern.FindAllSubmatch(list, -1) {
		outputs = append(outputs, Output{
			Name:     string(m[1]),
			Path:     string(m[2]),
			HashAlgo: string(m[3]),
			Hash:     string(m[4]),
		})
	}
	return outputs, nil
}

// outputsEnd returns the index of the ']' closing the output list, skipping
// over quoted strings.
func outputsEnd(data []byte) int {
	inString := false
	for i := 0; i < len(data); i++ {
		switch c := data[i]; {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case !inString && c == ']':
			return i
		}
	}
	return -1
}

// FixedOutput reads the derivation at path and returns its first output with
// a pinned hash. Returns ErrNotFixed when there is none.
func FixedOutput(path string) (Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Output{}, fmt.Errorf("reading derivation %s: %w", path, err)
	}
	outputs, err := ParseOutputs(data)
	if err != nil {
		return Output{}, fmt.Errorf("%s: %w", path, err)
	}
	for _, o := range outputs {
		if o.Fixed() {
			return o, nil
		}
	}
	return Output{}, ErrNotFixed
}
