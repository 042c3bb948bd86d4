package symtab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupSymbolMissingImageNotFound(t *testing.T) {
	r := New()
	_, found := r.LookupSymbol("/no/such/file", "malloc")
	assert.False(t, found)
}

func TestLookupSymbolUnknownFormatIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-binary")
	require.NoError(t, os.WriteFile(path, []byte("just some text, not ELF or PE"), 0o644))

	r := New()
	_, found := r.LookupSymbol(path, "malloc")
	assert.False(t, found)
}

func TestLookupSymbolCachesPerImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-binary")
	require.NoError(t, os.WriteFile(path, []byte("text"), 0o644))

	r := New()
	r.LookupSymbol(path, "malloc")
	_, ok := r.cache[path]
	require.True(t, ok, "first lookup should populate the per-image cache entry")

	// A second lookup against the same path must reuse the cached
	// (empty) symbol table rather than reparsing.
	_, found := r.LookupSymbol(path, "free")
	assert.False(t, found)
	assert.Len(t, r.cache, 1)
}
