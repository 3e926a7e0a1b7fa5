//go:build mage

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"

	"github.com/magefile/mage/sh"
)

const (
	binNix         = "nix"
	binGit         = "git"
	vendorHashFile = "vendor-hash"

	// fakeVendorHash never matches, so the module fetch fails and Nix reports
	// the real hash.
	fakeVendorHash = "sha256-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
)

var gotHashPattern = regexp.MustCompile(`got:\s+(sha256-[A-Za-z0-9+/=]+)`)

// Lock regenerates go.sum, flake.lock and vendor-hash so the flake builds
// from locked dependencies. Run it after changing go.mod.
func Lock() error {
	if err := sh.RunV(binGo, "mod", "tidy"); err != nil {
		return err
	}
	if err := sh.RunV(binNix, "flake", "lock"); err != nil {
		return err
	}

	if err := os.WriteFile(vendorHashFile, []byte(fakeVendorHash+"\n"), 0o644); err != nil {
		return err
	}
	// Flakes only see files known to git.
	if err := sh.RunV(binGit, "add", "--intent-to-add", "go.sum", "flake.lock", vendorHashFile); err != nil {
		return err
	}

	hash, err := reportedVendorHash()
	if err != nil {
		return err
	}
	if err := os.WriteFile(vendorHashFile, []byte(hash+"\n"), 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", vendorHashFile, hash)
	return nil
}

// reportedVendorHash builds the Go module fetch against the fake hash and
// returns the hash Nix reports in the mismatch error.
func reportedVendorHash() (string, error) {
	cmd := exec.Command(binNix, "build", "--no-link", ".#nixpkgs-fod-reports.goModules")
	out, err := cmd.CombinedOutput()
	if err == nil {
		return "", errors.New("module fetch unexpectedly matched the fake vendor hash")
	}
	m := gotHashPattern.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no hash in nix output: %w\n%s", err, out)
	}
	return string(m[1]), nil
}
