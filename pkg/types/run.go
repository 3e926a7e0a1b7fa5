package types

import "time"

// Run is one invocation of the checker against a Nixpkgs tree.
type Run struct {
	RunID      string    `json:"run_id"`
	Nixpkgs    string    `json:"nixpkgs"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Summary    Summary   `json:"summary"`
}

// Duration is the wall-clock time the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
