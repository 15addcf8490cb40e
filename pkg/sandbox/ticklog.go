package sandbox

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Event kinds recorded in the tick log.
const (
	EventRelease  = "release"
	EventDenied   = "denied"
	EventFizzle   = "fizzle"
	EventInvoke   = "invoke"
	EventDissolve = "dissolve"
	EventHit      = "hit"
	EventPerish   = "perish"
)

// Event is one thing that happened during a tick.
type Event struct {
	Tick   int     `json:"tick"`
	Kind   string  `json:"kind"`
	Caster string  `json:"caster,omitempty"`
	Body   string  `json:"body,omitempty"`
	Detail string  `json:"detail,omitempty"`
	Energy float64 `json:"energy,omitempty"`
}

// TickEntry is one line of the tick log.
type TickEntry struct {
	Tick   int     `json:"tick"`
	Stats  Stats   `json:"stats"`
	Events []Event `json:"events,omitempty"`
}

// TickLog writes one JSON line per tick through a zstd encoder.
type TickLog struct {
	mu  sync.Mutex
	f   io.Closer // set when the log owns its file
	enc *zstd.Encoder
	w   *bufio.Writer
}

// NewTickLog writes compressed entries to out.
func NewTickLog(out io.Writer) (*TickLog, error) {
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &TickLog{enc: enc, w: bufio.NewWriterSize(enc, 128*1024)}, nil
}

// CreateTickLog creates the file at path, conventionally *.jsonl.zst.
func CreateTickLog(path string) (*TickLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	l, err := NewTickLog(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	l.f = f
	return l, nil
}

// Write appends one entry.
func (l *TickLog) Write(e TickEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	return l.w.WriteByte('\n')
}

// Close flushes the log and ends the zstd frame.
func (l *TickLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.w.Flush()
	if cerr := l.enc.Close(); err == nil {
		err = cerr
	}
	if l.f != nil {
		if cerr := l.f.Close(); err == nil {
			err = cerr
		}
		l.f = nil
	}
	return err
}

// ReadTickLog decodes every entry of a compressed tick log.
func ReadTickLog(in io.Reader) ([]TickEntry, error) {
	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []TickEntry
	jd := json.NewDecoder(dec)
	for {
		var e TickEntry
		if err := jd.Decode(&e); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}
