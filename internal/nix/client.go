// Package nix runs the Nix command-line tools in a restricted environment and
// exposes the handful of store and evaluation operations the checker needs.
package nix

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Command names.
const (
	binEnv         = "nix-env"
	binInstantiate = "nix-instantiate"
	binStore       = "nix-store"
)

// Environment handed to every Nix process. Everything else is cleared.
const (
	homelessShelter = "/homeless-shelter"
	nixpkgsConfig   = "{ allowAliases = false; }"
)

// GC root subdirectories under the roots directory.
const (
	attrRootsDir = "attrs"
	drvRootsDir  = "drvs"
)

var (
	// ErrCommandFailed is returned when a Nix process exits unsuccessfully.
	ErrCommandFailed = errors.New("nix process failed, see above output")

	// ErrNoOutput is returned when a command that must print a path prints nothing.
	ErrNoOutput = errors.New("no derivation in nix output")
)

// Client runs Nix commands.
type Client struct {
	// BinDir, when set, is the directory the Nix executables are taken from.
	// Otherwise they are looked up on PATH.
	BinDir string

	// Stderr receives the stderr of every Nix process. Defaults to os.Stderr.
	Stderr io.Writer
}

// NewClient creates a Client that finds Nix executables in binDir, or on
// PATH when binDir is empty.
func NewClient(binDir string) *Client {
	return &Client{BinDir: binDir, Stderr: os.Stderr}
}

// run executes cmd with args in a cleared environment. searchPath becomes
// NIX_PATH and its first entry the working directory. stdout is spooled to a
// temporary file that is returned rewound; the caller must close it.
func (c *Client) run(ctx context.Context, cmd string, args []string, searchPath ...string) (*os.File, error) {
	configDir, err := os.MkdirTemp("", "nixpkgs-config-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary directory for nixpkgs config: %w", err)
	}
	defer os.RemoveAll(configDir)

	configPath := filepath.Join(configDir, "nixpkgs-config.nix")
	if err := os.WriteFile(configPath, []byte(nixpkgsConfig+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("writing nixpkgs config file: %w", err)
	}

	name := cmd
	if c.BinDir != "" {
		name = filepath.Join(c.BinDir, cmd)
	}

	argv := append([]string{"--option", "restrict-eval", "true"}, args...)
	proc := exec.CommandContext(ctx, name, argv...)
	proc.Env = []string{
		"HOME=" + homelessShelter,
		"NIXPKGS_CONFIG=" + configPath,
		"NIX_PATH=" + strings.Join(searchPath, ":"),
	}
	if len(searchPath) > 0 {
		proc.Dir = searchPath[0]
	}

	stdout, err := os.CreateTemp("", "nix-output-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary file for nix command: %w", err)
	}
	// Unlinked right away; the open handle keeps the data.
	os.Remove(stdout.Name())

	proc.Stdout = stdout
	proc.Stderr = c.stderr()

	if err := proc.Run(); err != nil {
		stdout.Close()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s: %w", cmd, ErrCommandFailed)
		}
		return nil, fmt.Errorf("running %s: %w", cmd, err)
	}

	if _, err := stdout.Seek(0, io.SeekStart); err != nil {
		stdout.Close()
		return nil, fmt.Errorf("rewinding nix output: %w", err)
	}
	return stdout, nil
}

func (c *Client) stderr() io.Writer {
	if c.Stderr == nil {
		return os.Stderr
	}
	return c.Stderr
}

// lines runs a command and returns its stdout split into lines.
func (c *Client) lines(ctx context.Context, cmd string, args []string, searchPath ...string) ([]string, error) {
	out, err := c.run(ctx, cmd, args, searchPath...)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	var lines []string
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s output: %w", cmd, err)
	}
	return lines, nil
}

// rootTarget runs a command that registers a GC root and prints it, and
// returns the store path the root points to.
func (c *Client) rootTarget(ctx context.Context, cmd string, args []string, searchPath ...string) (string, error) {
	lines, err := c.lines(ctx, cmd, args, searchPath...)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 || lines[0] == "" {
		return "", ErrNoOutput
	}
	target, err := os.Readlink(lines[0])
	if err != nil {
		return "", fmt.Errorf("finding GC root target: %w", err)
	}
	return target, nil
}

// Attrs lists every available attribute path in the nixpkgs tree.
func (c *Client) Attrs(ctx context.Context, nixpkgs string) ([]string, error) {
	return c.lines(ctx, binEnv, []string{
		"--query", "--available", "--no-name", "--attr-path", "-f", ".",
	}, nixpkgs)
}

// Instantiate evaluates attr and returns its derivation path. The derivation
// is kept alive by a GC root under roots until Release is called.
func (c *Client) Instantiate(ctx context.Context, nixpkgs, attr, roots string) (string, error) {
	if err := ensureRootDir(roots, attrRootsDir); err != nil {
		return "", err
	}
	return c.rootTarget(ctx, binInstantiate, []string{
		".", "-A", attr, "--add-root", AttrRoot(roots, attr),
	}, nixpkgs)
}

// Release removes the GC root Instantiate created for attr.
func (c *Client) Release(attr, roots string) error {
	if err := os.Remove(AttrRoot(roots, attr)); err != nil {
		return fmt.Errorf("deleting attribute GC root: %w", err)
	}
	return nil
}

// Requisites returns the closure of store paths drv depends on, drv included.
func (c *Client) Requisites(ctx context.Context, drv string) ([]string, error) {
	return c.lines(ctx, binStore, []string{"--query", "--requisites", drv})
}

// Realise builds drv and returns its output path, which is kept alive by a
// GC root under roots until Delete is called.
func (c *Client) Realise(ctx context.Context, drv, roots string) (string, error) {
	if err := ensureRootDir(roots, drvRootsDir); err != nil {
		return "", err
	}
	return c.rootTarget(ctx, binStore, []string{
		"--realise", drv, "--add-root", DrvRoot(roots, drv),
	})
}

// Check rebuilds an already realised drv and reports whether the rebuild
// produced the same output.
func (c *Client) Check(ctx context.Context, drv string) bool {
	out, err := c.run(ctx, binStore, []string{"--realise", "--check", drv, "--no-gc-warning"})
	if err != nil {
		return false
	}
	out.Close()
	return true
}

// Delete removes the output Realise produced for drv along with its GC root.
func (c *Client) Delete(ctx context.Context, drv, roots string) error {
	root := DrvRoot(roots, drv)
	out, err := c.run(ctx, binStore, []string{"--delete", root})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", root, err)
	}
	out.Close()
	return nil
}

func ensureRootDir(roots, sub string) error {
	if err := os.MkdirAll(filepath.Join(roots, sub), 0o755); err != nil {
		return fmt.Errorf("creating GC roots directory: %w", err)
	}
	return nil
}

// AttrRoot returns the GC root path used for an attribute.
func AttrRoot(roots, attr string) string {
	return filepath.Join(roots, attrRootsDir, attr)
}

// DrvRoot returns the GC root path used for a derivation's output.
func DrvRoot(roots, drv string) string {
	return filepath.Join(roots, drvRootsDir, filepath.Base(drv))
}
