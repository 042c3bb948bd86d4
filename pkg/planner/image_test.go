package planner

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/pintrace/pkg/dbi"
	"github.com/go-delve/pintrace/pkg/trace"
)

type memFile struct{ bytes.Buffer }

func (m *memFile) Close() error { return nil }

func newTestSession() (*trace.Session, map[string]*memFile) {
	files := map[string]*memFile{}
	open := func(name string) (io.WriteCloser, error) {
		f := &memFile{}
		files[name] = f
		return f, nil
	}
	return trace.NewSession("out/", open, nil, nil), files
}

// fakeResolver reports a symbol as found iff it's in the allow-set for
// the given image, standing in for the host's real symbol table.
type fakeResolver struct {
	symbols map[string]map[string]uint64 // image -> symbol -> addr
}

func (f *fakeResolver) LookupSymbol(image, name string) (uint64, bool) {
	addr, ok := f.symbols[image][name]
	return addr, ok
}

func TestPlanImageLoadRecordsMetadataAndRegistersImage(t *testing.T) {
	session, files := newTestSession()
	p := New(Config{InterestingImages: []string{"libinterest"}}, trace.NewRegistry(), nil)

	hooks, err := p.PlanImageLoad(session, "/usr/bin/target", 0x1000, 0x2000, &fakeResolver{})
	require.NoError(t, err)
	assert.Empty(t, hooks, "target has no harness or allocator exports in the fake resolver")

	meta, ok := files["out/prefix_data.txt"]
	require.True(t, ok)
	assert.Contains(t, meta.String(), "i\t1\t1000\t2000\t/usr/bin/target\n")

	interesting, found := p.registry.Contains(0x1500, 0x1600)
	require.True(t, found)
	assert.True(t, interesting)
}

func TestPlanImageLoadPlansHarnessHooksOnMainExecutableOnly(t *testing.T) {
	session, _ := newTestSession()
	p := New(Config{}, trace.NewRegistry(), nil)
	resolver := &fakeResolver{symbols: map[string]map[string]uint64{
		"/usr/bin/target": {
			"PinNotifyTestcaseStart": 0x401000,
			"PinNotifyTestcaseEnd":   0x401100,
			"PinNotifyStackPointer":  0x401200,
		},
	}}

	hooks, err := p.PlanImageLoad(session, "/usr/bin/target", 0x1000, 0x2000, resolver)
	require.NoError(t, err)
	require.Len(t, hooks, 3)
	for _, h := range hooks {
		assert.NotNil(t, h.Handler)
	}

	// A later-loaded image exporting the same symbol names (unlikely,
	// but the policy is explicit about it) must not get harness hooks:
	// only the first/main image is eligible.
	resolver.symbols["/lib/other.so"] = resolver.symbols["/usr/bin/target"]
	hooks2, err := p.PlanImageLoad(session, "/lib/other.so", 0x3000, 0x4000, resolver)
	require.NoError(t, err)
	assert.Empty(t, hooks2)
}

func TestPlanImageLoadPlansUnixAllocatorHooksOnLibc(t *testing.T) {
	session, _ := newTestSession()
	p := New(Config{}, trace.NewRegistry(), nil)
	p.registry.Add("/usr/bin/target", 0, 0, nil) // main executable already loaded

	resolver := &fakeResolver{symbols: map[string]map[string]uint64{
		"/lib/x86_64-linux-gnu/libc.so.6": {
			"malloc":  0x7f0000,
			"calloc":  0x7f0100,
			"realloc": 0x7f0200,
			"free":    0x7f0300,
		},
	}}

	hooks, err := p.PlanImageLoad(session, "/lib/x86_64-linux-gnu/libc.so.6", 0x5000, 0x6000, resolver)
	require.NoError(t, err)
	require.Len(t, hooks, 4)

	kinds := map[string]RoutineHookKind{}
	for _, h := range hooks {
		kinds[h.Symbol] = h.Kind
	}
	assert.Equal(t, RoutineAllocEntry, kinds["malloc"])
	assert.Equal(t, RoutineAllocEntryCalloc, kinds["calloc"])
	assert.Equal(t, RoutineAllocEntry, kinds["realloc"])
	assert.Equal(t, RoutineFree, kinds["free"])
}

func TestPlanImageLoadSkipsUnexportedAllocatorSymbols(t *testing.T) {
	session, _ := newTestSession()
	p := New(Config{}, trace.NewRegistry(), nil)
	p.registry.Add("/usr/bin/target", 0, 0, nil)

	// libc.so image that only exports malloc/free, not calloc/realloc.
	resolver := &fakeResolver{symbols: map[string]map[string]uint64{
		"/lib/libc.so.6": {"malloc": 1, "free": 2},
	}}
	hooks, err := p.PlanImageLoad(session, "/lib/libc.so.6", 0x5000, 0x6000, resolver)
	require.NoError(t, err)
	require.Len(t, hooks, 2)
}

func TestHandlerForCallocReducesSizeByCount(t *testing.T) {
	p := New(Config{}, trace.NewRegistry(), nil)
	w, err := trace.NewWriter(trace.NewSession("out/", func(string) (io.WriteCloser, error) { return &memFile{}, nil }, nil, nil))
	require.NoError(t, err)
	ctx := &dbi.ThreadContext{Writer: w, Alloc: trace.NewAllocTracker()}

	handler := p.HandlerFor(RoutineAllocEntryCalloc)
	handler(ctx, 4, 16) // calloc(4, 16) -> size 64

	require.Equal(t, 1, w.Next(), "calloc(n,size) must have emitted exactly one HeapAllocSizeParameter")
}

func TestHandlerForHarnessAllocationEmitsSizeThenAddress(t *testing.T) {
	p := New(Config{}, trace.NewRegistry(), nil)
	w, err := trace.NewWriter(trace.NewSession("out/", func(string) (io.WriteCloser, error) { return &memFile{}, nil }, nil, nil))
	require.NoError(t, err)
	ctx := &dbi.ThreadContext{Writer: w, Alloc: trace.NewAllocTracker()}

	handler := p.HandlerFor(RoutineHarnessAllocation)
	handler(ctx, 0xdead, 32)

	assert.Equal(t, 2, w.Next())
}
