package trace

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFile struct {
	bytes.Buffer
	closed bool
}

func (m *memFile) Close() error { m.closed = true; return nil }

type memFS struct {
	files map[string]*memFile
}

func newMemFS() *memFS { return &memFS{files: map[string]*memFile{}} }

func (fs *memFS) open(name string) (io.WriteCloser, error) {
	f := &memFile{}
	fs.files[name] = f
	return f, nil
}

func newTestSession(fs *memFS) (*Session, *[]string) {
	var notified []string
	s := NewSession("out/", fs.open, func(path string) {
		notified = append(notified, path)
	}, nil)
	return s, &notified
}

func TestPrefixToFirstTestcaseTransition(t *testing.T) {
	fs := newMemFS()
	session, notified := newTestSession(fs)
	w, err := NewWriter(session)
	require.NoError(t, err)

	w.Append(NewBranch(BranchJump, true, 1, 2))
	require.NoError(t, w.TestcaseStart(1))

	// prefix.trace should have received the one flushed entry and been
	// closed; prefix_data.txt is only opened when an image load is
	// recorded, so it does not exist here.
	prefixFile, ok := fs.files["out/prefix.trace"]
	require.True(t, ok)
	assert.True(t, prefixFile.closed)
	assert.Equal(t, EntrySize, prefixFile.Len())

	w.Append(NewMemoryAccess(MemoryRead, 0x10, 0x20, 4))
	require.NoError(t, w.TestcaseEnd())

	tFile, ok := fs.files["out/t1.trace"]
	require.True(t, ok)
	assert.True(t, tFile.closed)
	assert.Equal(t, EntrySize, tFile.Len())

	require.Len(t, *notified, 1)
	assert.Equal(t, "out/t1.trace", (*notified)[0])
}

func TestWholeEntryFlushInvariant(t *testing.T) {
	fs := newMemFS()
	session, _ := newTestSession(fs)
	w, err := NewWriter(session)
	require.NoError(t, err)
	require.NoError(t, w.TestcaseStart(1))

	for i := 0; i < 100; i++ {
		w.Append(NewMemoryAccess(MemoryRead, uint64(i), uint64(i), 4))
	}
	require.NoError(t, w.TestcaseEnd())

	f := fs.files["out/t1.trace"]
	assert.Equal(t, 0, f.Len()%EntrySize)
	assert.Equal(t, 100*EntrySize, f.Len())
}

func TestIdleDrop(t *testing.T) {
	fs := newMemFS()
	session, notified := newTestSession(fs)
	w, err := NewWriter(session)
	require.NoError(t, err)
	require.NoError(t, w.TestcaseStart(1))
	w.Append(NewMemoryAccess(MemoryRead, 1, 1, 4))
	require.NoError(t, w.TestcaseEnd())

	// Now Idle: insertions are accepted into the buffer but must never
	// reach a file.
	w.Append(NewMemoryAccess(MemoryRead, 2, 2, 4))
	w.Append(NewMemoryAccess(MemoryRead, 3, 3, 4))
	assert.Equal(t, 2, w.Next())

	require.NoError(t, w.TestcaseStart(2))
	require.NoError(t, w.TestcaseEnd())

	require.Len(t, *notified, 2)
	f2 := fs.files["out/t2.trace"]
	assert.Equal(t, 0, f2.Len(), "entries buffered while idle must never be flushed")
}

func TestBufferOverflowFlush(t *testing.T) {
	fs := newMemFS()
	session, _ := newTestSession(fs)
	w, err := NewWriter(session)
	require.NoError(t, err)
	require.NoError(t, w.TestcaseStart(1))

	const n = BufferCapacity + 1
	for i := 0; i < n; i++ {
		w.Append(NewMemoryAccess(MemoryRead, uint64(i), uint64(i), 4))
	}
	require.NoError(t, w.TestcaseEnd())

	f := fs.files["out/t1.trace"]
	assert.Equal(t, n*EntrySize, f.Len())
}

func TestNilWriterIsNoOp(t *testing.T) {
	var w *Writer
	assert.Equal(t, -1, w.Next())
	assert.False(t, w.Append(NewMemoryAccess(MemoryRead, 1, 1, 4)))
	require.NoError(t, w.TestcaseStart(1))
	require.NoError(t, w.TestcaseEnd())
	assert.Equal(t, "", w.CurrentPath())
}
