//go:build mage

// Package main provides build targets for nixpkgs-fod-reports using Mage.
//
// Usage:
//
//	mage build          Compile the binary to bin/
//	mage test:all       Run all tests
//	mage test:cover     Run tests with a coverage profile
//	mage lint           Run golangci-lint
//	mage check          Format gate, go vet and tests (what the flake runs)
//	mage run --nixpkgs ../nixpkgs
//	                    Build and check a Nixpkgs checkout
//	mage clean          Remove build artifacts
//	mage install        Install the binary to GOPATH/bin
//	mage stats          Print run history statistics as JSON
//	mage lock           Regenerate go.sum, flake.lock and vendor-hash
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo       = "go"
	binaryName  = "nixpkgs-fod-reports"
	binaryDir   = "bin"
	cmdDir      = "./cmd/nixpkgs-fod-reports"
	modulePath  = "github.com/mesh-intelligence/nixpkgs-fod-reports"
	versionFile = "VERSION"
)

// version reads the release version from the VERSION file.
func version() (string, error) {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", versionFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func ldflags() (string, error) {
	v, err := version()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("-s -w -X %s/internal/cli.version=%s", modulePath, v), nil
}

// Build compiles the binary to bin/ with the version from VERSION.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	flags, err := ldflags()
	if err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", flags, "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	if err := os.Remove(coverProfile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
