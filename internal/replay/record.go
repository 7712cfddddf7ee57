// Package replay drives session trackers from a recorded stream of score
// observations and summarises the outcome of every session.
//
// The input is JSON lines, one record per line:
//
//	{"session":"s1","at":"2026-03-14T18:30:01.2Z","score":120,"level":1,"elapsed":1.2}
//	{"session":"s1","at":"2026-03-14T18:30:09Z","op":"reset"}
//
// Records must be ordered by "at". The replay clock follows the records, so a
// replay produces the same reports no matter how fast it runs. In live mode
// the replayer uses a wall clock instead and "at" is ignored.
package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrInvalidRecord is returned for lines that cannot be replayed.
var ErrInvalidRecord = errors.New("invalid record")

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

// Op is the action a record applies to its session.
type Op string

const (
	OpObserve      Op = "observe"
	OpOpen         Op = "open"
	OpReset        Op = "reset"
	OpMarkNotFirst Op = "mark_not_first"
	OpClose        Op = "close"
)

// Valid reports whether op is a known operation.
func (op Op) Valid() bool {
	switch op {
	case OpObserve, OpOpen, OpReset, OpMarkNotFirst, OpClose:
		return true
	}
	return false
}

// Record is one line of replay input. Absent optional fields take defaults:
// op is observe, level is 1, first_session is true.
type Record struct {
	Session      string    `json:"session"`
	At           time.Time `json:"at"`
	Op           Op        `json:"op,omitempty"`
	Score        *float64  `json:"score,omitempty"`
	Level        *int      `json:"level,omitempty"`
	Elapsed      float64   `json:"elapsed,omitempty"`
	FirstSession *bool     `json:"first_session,omitempty"`
}

// Validate checks required fields and fills in the default op.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Session) == "" {
		return fmt.Errorf("%w: session is required", ErrInvalidRecord)
	}
	if r.Op == "" {
		r.Op = OpObserve
	}
	if !r.Op.Valid() {
		return fmt.Errorf("%w: unknown op %q", ErrInvalidRecord, r.Op)
	}
	if r.Op == OpObserve && r.Score == nil {
		return fmt.Errorf("%w: observe requires score", ErrInvalidRecord)
	}
	return nil
}

func (r Record) level() int {
	if r.Level == nil {
		return 1
	}
	return *r.Level
}

func (r Record) firstSession() bool {
	if r.FirstSession == nil {
		return true
	}
	return *r.FirstSession
}

// Reader decodes records from JSON lines. Blank lines are skipped.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader creates a record reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc}
}

// Line returns the 1-based number of the last line read.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next valid record, or io.EOF when the input is exhausted.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return Record{}, fmt.Errorf("line %d: %w: %v", r.line, ErrInvalidRecord, err)
		}
		if err := rec.Validate(); err != nil {
			return Record{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, fmt.Errorf("read line %d: %w", r.line+1, err)
	}
	return Record{}, io.EOF
}
