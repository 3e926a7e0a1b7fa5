// Package checker finds every fixed-output derivation reachable from a
// Nixpkgs tree and rebuilds each one to see whether its output is
// reproducible.
//
// A check runs in two parallel phases. The collect phase instantiates every
// attribute and gathers the requisites of its derivation, remembering which
// attribute first led to each derivation. The reproduce phase filters that set
// down to fixed-output derivations, realises each one, and rebuilds it with
// nix-store --check.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/derivation"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

// Nix is the set of Nix operations the checker drives.
// *nix.Client implements it.
type Nix interface {
	Attrs(ctx context.Context, nixpkgs string) ([]string, error)
	Instantiate(ctx context.Context, nixpkgs, attr, roots string) (string, error)
	Release(attr, roots string) error
	Requisites(ctx context.Context, drv string) ([]string, error)
	Realise(ctx context.Context, drv, roots string) (string, error)
	Check(ctx context.Context, drv string) bool
	Delete(ctx context.Context, drv, roots string) error
}

// Checker reproduces the fixed-output derivations of a Nixpkgs tree.
type Checker struct {
	nix      Nix
	jobs     int
	drvCache string
	isFOD    func(path string) (bool, error)
	logger   *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithJobs bounds the number of concurrent Nix operations. Values below one
// select runtime.NumCPU().
func WithJobs(n int) Option {
	return func(c *Checker) { c.jobs = n }
}

// WithDrvCache persists the collected derivation set to path after the
// collect phase and seeds it from path on the next run.
func WithDrvCache(path string) Option {
	return func(c *Checker) { c.drvCache = path }
}

// WithLogger sets the logger progress is reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// WithFODDetector replaces the function deciding whether a derivation file is
// fixed-output.
func WithFODDetector(fn func(path string) (bool, error)) Option {
	return func(c *Checker) { c.isFOD = fn }
}

// New creates a Checker driving n.
func New(n Nix, opts ...Option) *Checker {
	c := &Checker{
		nix:    n,
		isFOD:  derivation.IsFODFile,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.jobs < 1 {
		c.jobs = runtime.NumCPU()
	}
	return c
}

// drvSet maps derivation paths to the attribute that first required them.
type drvSet struct {
	mu   sync.Mutex
	drvs map[string]string
}

func (s *drvSet) has(drv string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.drvs[drv]
	return ok
}

// addAll records attr for every drv not already present.
func (s *drvSet) addAll(drvs []string, attr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, drv := range drvs {
		if _, ok := s.drvs[drv]; !ok {
			s.drvs[drv] = attr
		}
	}
}

func (s *drvSet) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.drvs))
	for drv, attr := range s.drvs {
		out[drv] = attr
	}
	return out
}

// CheckAll reproduces every fixed-output derivation reachable from the
// attributes of nixpkgs. Derivations that cannot be evaluated or realised
// are logged and left out of the results.
func (c *Checker) CheckAll(ctx context.Context, nixpkgs string) (types.Results, error) {
	roots, err := os.MkdirTemp("", "nixpkgs-fod-reports-roots-*")
	if err != nil {
		return nil, fmt.Errorf("creating roots directory: %w", err)
	}
	defer os.RemoveAll(roots)

	set := &drvSet{drvs: make(map[string]string)}
	if c.drvCache != "" {
		cached, err := LoadCache(c.drvCache)
		if err != nil {
			return nil, err
		}
		set.drvs = cached
		c.logger.Info("loaded derivation cache", slog.String("path", c.drvCache), slog.Int("derivations", len(cached)))
	}

	if err := c.collect(ctx, nixpkgs, roots, set); err != nil {
		return nil, err
	}

	drvs := set.snapshot()
	if c.drvCache != "" {
		if err := SaveCache(c.drvCache, drvs); err != nil {
			return nil, err
		}
	}

	return c.reproduce(ctx, nixpkgs, roots, drvs)
}

// collect instantiates every attribute and adds the requisites of its
// derivation to set.
func (c *Checker) collect(ctx context.Context, nixpkgs, roots string, set *drvSet) error {
	c.logger.Info("generating attrs to check", slog.String("nixpkgs", nixpkgs))

	attrs, err := c.nix.Attrs(ctx, nixpkgs)
	if err != nil {
		return fmt.Errorf("listing attributes: %w", err)
	}
	c.logger.Info("collecting derivations", slog.Int("attrs", len(attrs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.jobs)

	for _, attr := range attrs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return c.collectAttr(gctx, nixpkgs, roots, attr, set)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Checker) collectAttr(ctx context.Context, nixpkgs, roots, attr string, set *drvSet) error {
	log := c.logger.With(slog.String("attr", attr))
	log.Info("instantiating")

	var reqs []string
	drv, err := c.nix.Instantiate(ctx, nixpkgs, attr, roots)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("evaluation failed", slog.Any("error", err))
	case set.has(drv):
		log.Debug("ignoring duplicate derivation", slog.String("drv", drv))
	default:
		log.Debug("getting requisites", slog.String("drv", drv))
		reqs, err = c.nix.Requisites(ctx, drv)
		if err != nil {
			return fmt.Errorf("getting requisite derivations of %s: %w", drv, err)
		}
	}

	if err := c.nix.Release(attr, roots); err != nil {
		log.Debug("failed to release derivation root, ignoring", slog.Any("error", err))
	}

	set.addAll(reqs, attr)
	return nil
}

// reproduce realises and rebuilds every fixed-output derivation in drvs.
func (c *Checker) reproduce(ctx context.Context, nixpkgs, roots string, drvs map[string]string) (types.Results, error) {
	c.logger.Info("reproducing fixed-output derivations", slog.Int("derivations", len(drvs)))

	var (
		mu      sync.Mutex
		results = make(types.Results)
	)

	var g errgroup.Group
	g.SetLimit(c.jobs)

	for drv, attr := range drvs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			reproducible, ok := c.reproduceDrv(ctx, nixpkgs, roots, drv, attr)
			if ok {
				mu.Lock()
				results[types.Key{Attr: attr, Drv: drv}] = reproducible
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// reproduceDrv checks a single derivation. ok is false when drv is not a
// fixed-output derivation or could not be realised.
func (c *Checker) reproduceDrv(ctx context.Context, nixpkgs, roots, drv, attr string) (reproducible, ok bool) {
	log := c.logger.With(slog.String("attr", attr), slog.String("drv", drv))

	if _, err := os.Stat(drv); errors.Is(err, os.ErrNotExist) {
		if _, err := c.nix.Instantiate(ctx, nixpkgs, attr, roots); err != nil {
			log.Warn("error re-instantiating derivation", slog.Any("error", err))
		} else {
			defer func() {
				if err := c.nix.Release(attr, roots); err != nil {
					log.Debug("failed to release derivation root, ignoring", slog.Any("error", err))
				}
			}()
		}
	}

	fod, err := c.isFOD(drv)
	if err != nil {
		log.Warn("error checking whether derivation is a FOD, assuming not", slog.Any("error", err))
		return false, false
	}
	if !fod {
		return false, false
	}

	log.Info("realising")
	out, err := c.nix.Realise(ctx, drv, roots)
	if err != nil {
		log.Warn("error realising derivation", slog.Any("error", err))
		return false, false
	}

	reproducible = c.nix.Check(ctx, drv)
	log.Info("checked", slog.Bool("reproducible", reproducible))

	if err := c.nix.Delete(ctx, drv, roots); err != nil {
		log.Warn("error removing root and output path", slog.String("output", out), slog.Any("error", err))
	}
	return reproducible, true
}
