package checker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/logging"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

var errFake = errors.New("fake nix failure")

// fakeNix is an in-memory Nix. Maps are read-only once a test starts.
type fakeNix struct {
	attrs        []string
	attrsErr     error
	drvOf        map[string]string   // attr -> drv; missing means evaluation fails
	requisites   map[string][]string // drv -> closure
	requisiteErr map[string]bool
	realiseFails map[string]bool
	reproducible map[string]bool
	deleteFails  map[string]bool

	// onInstantiate runs after a successful Instantiate with the number of
	// Instantiate calls so far.
	onInstantiate func(calls int)

	cancelOnAttr string
	cancel       context.CancelFunc

	mu           sync.Mutex
	instantiated []string
	requisitesOf []string
	released     []string
	realised     []string
	checked      []string
	deleted      []string
	nixpkgsSeen  map[string]bool
	rootsSeen    map[string]bool
}

func (f *fakeNix) record(list *[]string, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*list = append(*list, v)
}

func (f *fakeNix) seeRoots(roots string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rootsSeen == nil {
		f.rootsSeen = map[string]bool{}
	}
	f.rootsSeen[roots] = true
}

func (f *fakeNix) Attrs(_ context.Context, nixpkgs string) ([]string, error) {
	f.mu.Lock()
	f.nixpkgsSeen = map[string]bool{nixpkgs: true}
	f.mu.Unlock()
	return f.attrs, f.attrsErr
}

func (f *fakeNix) Instantiate(_ context.Context, _, attr, roots string) (string, error) {
	f.record(&f.instantiated, attr)
	f.seeRoots(roots)
	if attr == f.cancelOnAttr && f.cancel != nil {
		f.cancel()
	}
	drv, ok := f.drvOf[attr]
	if !ok {
		return "", errFake
	}
	if f.onInstantiate != nil {
		f.mu.Lock()
		calls := len(f.instantiated)
		f.mu.Unlock()
		f.onInstantiate(calls)
	}
	return drv, nil
}

func (f *fakeNix) Release(attr, _ string) error {
	f.record(&f.released, attr)
	return nil
}

func (f *fakeNix) Requisites(_ context.Context, drv string) ([]string, error) {
	f.record(&f.requisitesOf, drv)
	if f.requisiteErr[drv] {
		return nil, errFake
	}
	return f.requisites[drv], nil
}

func (f *fakeNix) Realise(_ context.Context, drv, roots string) (string, error) {
	f.record(&f.realised, drv)
	f.seeRoots(roots)
	if f.realiseFails[drv] {
		return "", errFake
	}
	return drv + "-out", nil
}

func (f *fakeNix) Check(_ context.Context, drv string) bool {
	f.record(&f.checked, drv)
	return f.reproducible[drv]
}

func (f *fakeNix) Delete(_ context.Context, drv, _ string) error {
	f.record(&f.deleted, drv)
	if f.deleteFails[drv] {
		return errFake
	}
	return nil
}

// storeFixture creates derivation files in a fake store directory.
type storeFixture struct {
	dir  string
	fods map[string]bool
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	return &storeFixture{dir: t.TempDir(), fods: map[string]bool{}}
}

// drv creates a derivation file and returns its path.
func (s *storeFixture) drv(t *testing.T, name string, fod bool) string {
	t.Helper()
	p := s.path(name)
	require.NoError(t, os.WriteFile(p, []byte("Derive([])"), 0o644))
	s.fods[p] = fod
	return p
}

// path returns a derivation path without creating the file.
func (s *storeFixture) path(name string) string {
	return filepath.Join(s.dir, name+".drv")
}

func (s *storeFixture) isFOD(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, err
	}
	return s.fods[path], nil
}

func newTestChecker(f *fakeNix, store *storeFixture, opts ...Option) *Checker {
	base := []Option{
		WithJobs(4),
		WithLogger(logging.Discard()),
		WithFODDetector(store.isFOD),
	}
	return New(f, append(base, opts...)...)
}

func TestCheckAll_ReportsFODOutcomes(t *testing.T) {
	store := newStoreFixture(t)
	hello := store.drv(t, "hello", false)
	helloSrc := store.drv(t, "hello-src", true)
	bash := store.drv(t, "bash", false)
	curl := store.drv(t, "curl", false)
	curlSrc := store.drv(t, "curl-src", true)

	f := &fakeNix{
		attrs: []string{"hello", "curl", "broken"},
		drvOf: map[string]string{"hello": hello, "curl": curl},
		requisites: map[string][]string{
			hello: {helloSrc, bash, hello},
			curl:  {curlSrc, bash, curl},
		},
		reproducible: map[string]bool{helloSrc: true, curlSrc: false},
	}

	results, err := newTestChecker(f, store).CheckAll(context.Background(), "/src/nixpkgs")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.True(t, results[types.Key{Attr: "hello", Drv: helloSrc}])
	reproducible, ok := results[types.Key{Attr: "curl", Drv: curlSrc}]
	assert.True(t, ok)
	assert.False(t, reproducible)

	assert.ElementsMatch(t, []string{helloSrc, curlSrc}, f.realised, "only FODs are realised")
	assert.ElementsMatch(t, []string{helloSrc, curlSrc}, f.checked)
	assert.ElementsMatch(t, []string{helloSrc, curlSrc}, f.deleted)
	assert.ElementsMatch(t, []string{"hello", "curl", "broken"}, f.released, "every attr root is released after collection")
	assert.True(t, f.nixpkgsSeen["/src/nixpkgs"])
	assert.Len(t, f.rootsSeen, 1, "one roots directory per run")
}

func TestCheckAll_SharedDependencyKeepsFirstAttr(t *testing.T) {
	store := newStoreFixture(t)
	a := store.drv(t, "a", false)
	src := store.drv(t, "shared-src", true)

	f := &fakeNix{
		attrs:        []string{"a"},
		drvOf:        map[string]string{"a": a},
		requisites:   map[string][]string{a: {src, a}},
		reproducible: map[string]bool{src: true},
	}

	cachePath := filepath.Join(t.TempDir(), "drvs.json")
	require.NoError(t, SaveCache(cachePath, map[string]string{src: "earlier"}))

	results, err := newTestChecker(f, store, WithDrvCache(cachePath)).CheckAll(context.Background(), "/src/nixpkgs")
	require.NoError(t, err)

	assert.Equal(t, types.Results{{Attr: "earlier", Drv: src}: true}, results)
}

func TestCheckAll_DuplicateDerivationSkipsRequisites(t *testing.T) {
	store := newStoreFixture(t)
	hello := store.drv(t, "hello", false)

	f := &fakeNix{
		attrs:      []string{"hello"},
		drvOf:      map[string]string{"hello": hello},
		requisites: map[string][]string{hello: {hello}},
	}

	cachePath := filepath.Join(t.TempDir(), "drvs.json")
	require.NoError(t, SaveCache(cachePath, map[string]string{hello: "hello"}))

	_, err := newTestChecker(f, store, WithDrvCache(cachePath)).CheckAll(context.Background(), "/src/nixpkgs")
	require.NoError(t, err)

	assert.Empty(t, f.requisitesOf)
	assert.Equal(t, []string{"hello"}, f.released)
}

func TestCheckAll_WritesDrvCache(t *testing.T) {
	store := newStoreFixture(t)
	hello := store.drv(t, "hello", false)
	src := store.drv(t, "hello-src", true)

	f := &fakeNix{
		attrs:        []string{"hello"},
		drvOf:        map[string]string{"hello": hello},
		requisites:   map[string][]string{hello: {src, hello}},
		reproducible: map[string]bool{src: true},
	}

	cachePath := filepath.Join(t.TempDir(), "drvs.json")
	_, err := newTestChecker(f, store, WithDrvCache(cachePath)).CheckAll(context.Background(), "/src/nixpkgs")
	require.NoError(t, err)

	cached, err := LoadCache(cachePath)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{src: "hello", hello: "hello"}, cached)
}

func TestCheckAll_CorruptCacheAborts(t *testing.T) {
	store := newStoreFixture(t)
	cachePath := filepath.Join(t.TempDir(), "drvs.json")
	require.NoError(t, os.WriteFile(cachePath, []byte("{not json"), 0o644))

	f := &fakeNix{attrs: []string{"hello"}}
	_, err := newTestChecker(f, store, WithDrvCache(cachePath)).CheckAll(context.Background(), "/src/nixpkgs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deserializing derivation cache")
	assert.Empty(t, f.instantiated)
}

func TestCheckAll_NullCacheAborts(t *testing.T) {
	store := newStoreFixture(t)
	cachePath := filepath.Join(t.TempDir(), "drvs.json")
	require.NoError(t, os.WriteFile(cachePath, []byte("null"), 0o644))

	f := &fakeNix{attrs: []string{"hello"}}
	_, err := newTestChecker(f, store, WithDrvCache(cachePath)).CheckAll(context.Background(), "/src/nixpkgs")
	require.ErrorIs(t, err, ErrCacheNotObject)
	assert.Empty(t, f.instantiated)
}

func TestCheckAll_AttrListingFails(t *testing.T) {
	store := newStoreFixture(t)
	f := &fakeNix{attrsErr: errFake}

	_, err := newTestChecker(f, store).CheckAll(context.Background(), "/src/nixpkgs")
	assert.ErrorIs(t, err, errFake)
}

func TestCheckAll_RequisitesFailureAborts(t *testing.T) {
	store := newStoreFixture(t)
	hello := store.drv(t, "hello", false)

	f := &fakeNix{
		attrs:        []string{"hello"},
		drvOf:        map[string]string{"hello": hello},
		requisiteErr: map[string]bool{hello: true},
	}

	_, err := newTestChecker(f, store).CheckAll(context.Background(), "/src/nixpkgs")
	require.Error(t, err)
	assert.ErrorIs(t, err, errFake)
	assert.Empty(t, f.realised)
}

func TestCheckAll_RealiseFailureIsSkipped(t *testing.T) {
	store := newStoreFixture(t)
	a := store.drv(t, "a", false)
	good := store.drv(t, "good-src", true)
	bad := store.drv(t, "bad-src", true)

	f := &fakeNix{
		attrs:        []string{"a"},
		drvOf:        map[string]string{"a": a},
		requisites:   map[string][]string{a: {good, bad, a}},
		realiseFails: map[string]bool{bad: true},
		reproducible: map[string]bool{good: true},
		deleteFails:  map[string]bool{good: true},
	}

	results, err := newTestChecker(f, store).CheckAll(context.Background(), "/src/nixpkgs")
	require.NoError(t, err)

	assert.Equal(t, types.Results{{Attr: "a", Drv: good}: true}, results, "a failed delete still records the result")
	assert.Equal(t, []string{good}, f.checked)
}

func TestCheckAll_UnreadableDerivationIsNotFOD(t *testing.T) {
	store := newStoreFixture(t)
	a := store.drv(t, "a", false)
	gone := store.path("gone-src")

	f := &fakeNix{
		attrs:      []string{"a"},
		drvOf:      map[string]string{"a": a},
		requisites: map[string][]string{a: {gone, a}},
	}

	results, err := newTestChecker(f, store).CheckAll(context.Background(), "/src/nixpkgs")
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Empty(t, f.realised)
	// The missing derivation triggers a re-instantiation of its attribute.
	assert.Equal(t, []string{"a", "a"}, f.instantiated)
}

func TestCheckAll_ReinstantiatesMissingDerivation(t *testing.T) {
	store := newStoreFixture(t)
	hello := store.drv(t, "hello", false)
	src := store.path("hello-src")
	store.fods[src] = true

	f := &fakeNix{
		attrs:        []string{"hello"},
		drvOf:        map[string]string{"hello": hello},
		reproducible: map[string]bool{src: true},
	}
	// The source derivation was garbage collected after the cache was written.
	// Only the second instantiation, in the reproduce phase, brings it back.
	f.onInstantiate = func(calls int) {
		if calls == 2 {
			_ = os.WriteFile(src, []byte("Derive([])"), 0o644)
		}
	}

	cachePath := filepath.Join(t.TempDir(), "drvs.json")
	require.NoError(t, SaveCache(cachePath, map[string]string{src: "hello", hello: "hello"}))

	results, err := newTestChecker(f, store, WithDrvCache(cachePath), WithJobs(1)).CheckAll(context.Background(), "/src/nixpkgs")
	require.NoError(t, err)

	assert.Equal(t, types.Results{{Attr: "hello", Drv: src}: true}, results)
	assert.Equal(t, []string{"hello", "hello"}, f.instantiated)
	assert.Equal(t, []string{"hello", "hello"}, f.released)
	assert.Equal(t, []string{src}, f.deleted)
}

func TestCheckAll_Cancelled(t *testing.T) {
	store := newStoreFixture(t)
	a := store.drv(t, "a", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeNix{
		attrs:        []string{"a", "b", "c"},
		drvOf:        map[string]string{"a": a},
		requisites:   map[string][]string{a: {a}},
		cancelOnAttr: "a",
		cancel:       cancel,
	}

	_, err := newTestChecker(f, store, WithJobs(1)).CheckAll(ctx, "/src/nixpkgs")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_DefaultJobs(t *testing.T) {
	c := New(&fakeNix{}, WithJobs(0))
	assert.Positive(t, c.jobs)
}
