//go:build mage

package main

import (
	"errors"
	"flag"
	"path/filepath"
	"strconv"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Run builds the binary and checks a Nixpkgs checkout.
//
//	mage run --nixpkgs ../nixpkgs [--jobs 8] [--drv-cache drvs.json] [--all]
func Run() error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	nixpkgs := fs.String("nixpkgs", "", "path to the Nixpkgs checkout")
	jobs := fs.Int("jobs", 0, "concurrent Nix operations (0: number of CPUs)")
	drvCache := fs.String("drv-cache", "", "derivation cache file")
	all := fs.Bool("all", false, "also print reproducible derivations")
	parseTargetFlags(fs)

	if *nixpkgs == "" {
		return errors.New("--nixpkgs is required")
	}

	mg.Deps(Build)

	args := []string{"check", *nixpkgs, "--jobs", strconv.Itoa(*jobs)}
	if *drvCache != "" {
		args = append(args, "--drv-cache", *drvCache)
	}
	if *all {
		args = append(args, "--all")
	}
	return sh.RunV(filepath.Join(binaryDir, binaryName), args...)
}
