package derivation

import "errors"

// ErrMalformed is returned when a derivation cannot be parsed.
var ErrMalformed = errors.New("malformed derivation")

// ErrNotFixed is returned when a derivation has no fixed output.
var ErrNotFixed = errors.New("derivation has no fixed output")
