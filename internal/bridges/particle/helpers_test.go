package particle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeClock records backoff waits instead of sleeping.
type fakeClock struct {
	mu      sync.Mutex
	sleeps  []time.Duration
	onSleep func(n int)
}

func (c *fakeClock) Now() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	c.mu.Unlock()

	if c.onSleep != nil {
		c.onSleep(n)
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// recordingSink stores every point written to it.
type recordingSink struct {
	mu     sync.Mutex
	points []Point
	err    error
	after  func(p Point)
}

func (s *recordingSink) Write(_ context.Context, p Point) error {
	s.mu.Lock()
	s.points = append(s.points, p.Clone())
	err := s.err
	after := s.after
	s.mu.Unlock()

	if after != nil {
		after(p)
	}
	return err
}

func (s *recordingSink) Points() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

// String flattens the entry for substring assertions.
func (e logEntry) String() string {
	var b strings.Builder
	b.WriteString(e.level + " " + e.msg)
	for _, a := range e.args {
		fmt.Fprintf(&b, " %v", a)
	}
	return b.String()
}

// arg returns the value following key in args.
func (e logEntry) arg(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if e.args[i] == key {
			return e.args[i+1]
		}
	}
	return nil
}

// recordingLogger captures log calls.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) Entries() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]logEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *recordingLogger) ByLevel(level string) []logEntry {
	var out []logEntry
	for _, e := range l.Entries() {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

// envelopeFrame wraps reading JSON the way Particle Cloud does.
func envelopeFrame(readingJSON string) string {
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(readingJSON)
	return `data: {"data":"` + quoted + `","ttl":60,"published_at":"2023-11-14T22:13:20.000Z","coreid":"e00fce68"}` + "\n\n"
}

const sampleReading = `{"measurement":"env","tags":{"location":"lab","device":"d1"},"fields":{"temperature":21.5,"humidity":40.2},"timestamp":1700000000}`
