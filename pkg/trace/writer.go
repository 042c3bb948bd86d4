package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// BufferCapacity is the number of entries in a trace writer's buffer
// before it must be flushed to disk.
const BufferCapacity = 16384

// FileOpener abstracts "truncate and open this output file for
// writing" so the writer can be exercised against an in-memory sink in
// tests without touching the filesystem.
type FileOpener func(name string) (io.WriteCloser, error)

// TestcaseNotifier is called exactly once per completed (non-prefix)
// testcase, with the path of the file that was just closed, mirroring
// the single "t\t{path}\n" stdout line of §4.1/§6.
type TestcaseNotifier func(path string)

func osOpen(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

func stdoutNotify(path string) {
	fmt.Printf("t\t%s\n", path)
}

// Session is the process-wide state shared by every per-thread Writer:
// the prefix-mode flag and the prefix metadata side file. Only thread
// 0 is ever instrumented (see §5), but the flag is modeled as shared
// state rather than a package global so multiple Sessions can coexist
// in tests.
type Session struct {
	mu         sync.Mutex
	prefixMode bool
	prefix     string
	open       FileOpener
	notify     TestcaseNotifier

	metaFile *bufio.Writer
	metaRaw  io.WriteCloser
	log      *logrus.Entry
}

// NewSession starts a process in prefix mode with the given output
// path prefix.
func NewSession(prefix string, open FileOpener, notify TestcaseNotifier, log *logrus.Entry) *Session {
	if open == nil {
		open = osOpen
	}
	if notify == nil {
		notify = stdoutNotify
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Session{prefixMode: true, prefix: prefix, open: open, notify: notify, log: log}
}

// initPrefixMeta lazily opens "{prefix}prefix_data.txt" the first time
// an image load is recorded.
func (s *Session) initPrefixMeta() error {
	if s.metaFile != nil {
		return nil
	}
	f, err := s.open(s.prefix + "prefix_data.txt")
	if err != nil {
		return err
	}
	s.metaRaw = f
	s.metaFile = bufio.NewWriter(f)
	return nil
}

// RecordImageLoad writes one "i\t<0|1>\t<start>\t<end>\t<name>\n" line
// to the prefix metadata file. It is flushed after every write (not
// just on close) so a crash mid-prefix still leaves readable partial
// metadata.
func (s *Session) RecordImageLoad(img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initPrefixMeta(); err != nil {
		return err
	}
	interesting := 0
	if img.Interesting {
		interesting = 1
	}
	fmt.Fprintf(s.metaFile, "i\t%d\t%x\t%x\t%s\n", interesting, img.Start, img.End, img.Name)
	return s.metaFile.Flush()
}

func (s *Session) closePrefixMeta() {
	if s.metaFile != nil {
		s.metaFile.Flush()
		s.metaRaw.Close()
		s.metaFile = nil
		s.metaRaw = nil
	}
}

// Writer owns one thread's entry buffer and output file(s). It
// implements the Prefix -> Testcase(id) -> Idle state machine of
// §4.1. A nil *Writer is the representation of a non-instrumented
// thread (every other thread besides thread 0, see §5): every method
// below is a safe no-op on a nil receiver.
type Writer struct {
	session *Session

	testcaseID int // -1 == Idle
	buf        [BufferCapacity]TraceEntry
	next       int // index into buf, in [0, BufferCapacity]

	file        io.WriteCloser
	currentPath string
	scratch     []byte // reused encode buffer, BufferCapacity*EntrySize bytes
}

// NewWriter opens "{prefix}prefix.trace" truncated for writing and
// returns a writer in the Prefix state. Fails fatally (per §7) if the
// file cannot be opened; callers in the CLI layer are expected to
// terminate the process on error.
func NewWriter(session *Session) (*Writer, error) {
	path := session.prefix + "prefix.trace"
	f, err := session.open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Writer{
		session:     session,
		testcaseID:  -1,
		next:        0,
		file:        f,
		currentPath: path,
		scratch:     make([]byte, BufferCapacity*EntrySize),
	}, nil
}

// Begin and End are the buffer sentinels of §3: Begin is always 0,
// End is one past the last valid index.
func (w *Writer) Begin() int { return 0 }
func (w *Writer) End() int   { return BufferCapacity }

// Next returns the writer's current cursor, or -1 if w is nil (the
// non-instrumented-thread case).
func (w *Writer) Next() int {
	if w == nil {
		return -1
	}
	return w.next
}

// Reset moves the cursor back to Begin(), used after TestcaseStart and
// TestcaseEnd per §4.3.
func (w *Writer) Reset() {
	if w == nil {
		return
	}
	w.next = w.Begin()
}

// checkBufferFull reports whether the cursor has reached End().
func (w *Writer) checkBufferFull() bool {
	return w != nil && w.next == w.End()
}

// flush writes bytes [Begin(), upto) to the current file, but only if
// the writer is not Idle (testcaseID != -1) or the session is still in
// prefix mode; in Idle state writes are silently discarded, per §4.1.
func (w *Writer) flush(upto int) error {
	if w == nil {
		return nil
	}
	idle := w.testcaseID == -1 && !w.inPrefixMode()
	if idle {
		w.next = w.Begin()
		return nil
	}
	if upto <= w.Begin() {
		return nil
	}
	n := 0
	for i := w.Begin(); i < upto; i++ {
		w.buf[i].Marshal(w.scratch[n : n+EntrySize])
		n += EntrySize
	}
	if _, err := w.file.Write(w.scratch[:n]); err != nil {
		return err
	}
	w.next = w.Begin()
	return nil
}

func (w *Writer) inPrefixMode() bool {
	w.session.mu.Lock()
	defer w.session.mu.Unlock()
	return w.session.prefixMode
}

// TestcaseStart transitions the writer into Testcase(id). If the
// session is still in prefix mode, the prefix file and its metadata
// side file are closed first (an implicit TestcaseEnd), then the
// writer opens "{prefix}t{id}.trace" truncated.
func (w *Writer) TestcaseStart(id int) error {
	if w == nil {
		return nil
	}
	if w.inPrefixMode() {
		if err := w.TestcaseEnd(); err != nil {
			return err
		}
	}
	w.testcaseID = id
	path := fmt.Sprintf("%st%d.trace", w.session.prefix, id)
	f, err := w.session.open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	w.file = f
	w.currentPath = path
	w.Reset()
	return nil
}

// TestcaseEnd flushes any pending entries, closes the current file,
// and transitions back to Idle. In prefix mode it also closes the
// metadata file and clears prefix mode; otherwise it emits the
// single-line stdout completion notification.
func (w *Writer) TestcaseEnd() error {
	if w == nil {
		return nil
	}
	wasPrefix := w.inPrefixMode()

	if w.next != w.Begin() {
		if err := w.flush(w.next); err != nil {
			return err
		}
	}
	if w.file != nil {
		w.file.Close()
	}

	if wasPrefix {
		w.session.mu.Lock()
		w.session.prefixMode = false
		w.session.mu.Unlock()
		w.session.closePrefixMeta()
	} else if w.testcaseID != -1 {
		w.session.notify(w.currentPath)
	}

	w.testcaseID = -1
	return nil
}

// Append inserts e at the cursor and advances it, flushing and
// wrapping the buffer to Begin() first if it was full. Returns false
// if w is nil (non-instrumented thread): a safe no-op.
func (w *Writer) Append(e TraceEntry) bool {
	if w == nil {
		return false
	}
	if w.checkBufferFull() {
		w.flush(w.End())
	}
	w.buf[w.next] = e
	w.next++
	return true
}

// TestcaseID returns the current testcase id, or -1 in Idle/Prefix.
func (w *Writer) TestcaseID() int {
	if w == nil {
		return -1
	}
	return w.testcaseID
}

// CurrentPath returns the path of the file currently being written.
func (w *Writer) CurrentPath() string {
	if w == nil {
		return ""
	}
	return w.currentPath
}
