// Package types defines the Store interface, run and result types, and
// standard errors shared by the nixpkgs-fod-reports packages.
package types
