// Package progress provides sinks for the human-readable trace emitted by long-running jobs.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Trace receives indented progress messages.
type Trace interface {
	Emit(msg string, depth int)
	Finish()
}

// Text writes one line per message, indented two spaces per depth level.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

// NewText returns a Text trace writing to w.
func NewText(w io.Writer) *Text { return &Text{w: w} }

func (t *Text) Emit(msg string, depth int) {
	if depth < 0 {
		depth = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.w, "%s%s\n", strings.Repeat("  ", depth), msg)
}

func (t *Text) Finish() {
	t.Emit("... finished", 0)
}

// Zap forwards messages to a logger at info level.
type Zap struct {
	log *zap.Logger
}

// NewZap returns a trace that logs through l.
func NewZap(l *zap.Logger) *Zap { return &Zap{log: l} }

func (z *Zap) Emit(msg string, depth int) {
	z.log.Info(msg, zap.Int("depth", depth))
}

func (z *Zap) Finish() {
	z.log.Info("trace finished")
}

// Multi fans out to every trace in order.
type Multi []Trace

func (m Multi) Emit(msg string, depth int) {
	for _, t := range m {
		t.Emit(msg, depth)
	}
}

func (m Multi) Finish() {
	for _, t := range m {
		t.Finish()
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(string, int) {}
func (Nop) Finish()          {}

// Line is one recorded message.
type Line struct {
	Msg   string
	Depth int
}

// Recorder keeps messages in memory.
type Recorder struct {
	mu       sync.Mutex
	lines    []Line
	finished bool
}

func (r *Recorder) Emit(msg string, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, Line{Msg: msg, Depth: depth})
}

func (r *Recorder) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
}

// Lines returns a copy of the recorded messages.
func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines...)
}

// Finished reports whether Finish was called.
func (r *Recorder) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Contains reports whether any recorded message contains sub.
func (r *Recorder) Contains(sub string) bool {
	for _, l := range r.Lines() {
		if strings.Contains(l.Msg, sub) {
			return true
		}
	}
	return false
}

var (
	_ Trace = (*Text)(nil)
	_ Trace = (*Zap)(nil)
	_ Trace = Multi(nil)
	_ Trace = Nop{}
	_ Trace = (*Recorder)(nil)
)
