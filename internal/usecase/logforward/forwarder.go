// Package logforward mirrors the bridge's own log lines to the control plane
// as "log" game events.
//
// The Handler tees records into a bounded buffer; Flush, run on a schedule,
// drains it through a Sink while the primary connection is identified.
// Records from loggers tagged component=link are never buffered, so a
// connection problem cannot feed itself.
package logforward

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"gamebridge/internal/domain"
	"gamebridge/internal/usecase/link"
)

// Sink receives forwarded lines.
type Sink interface {
	// Ready reports whether the primary connection is identified.
	Ready() bool
	BroadcastEvent(eventType domain.EventType, data map[string]any)
}

// Options tunes a Forwarder. Zero values are replaced by defaults.
type Options struct {
	Level      slog.Level
	BufferSize int
	BatchSize  int
	Rate       float64 // lines per second
	Burst      int
	// Source names lines whose logger carries no component attribute.
	Source string
}

const (
	defaultBufferSize = 1000
	defaultBatchSize  = 50
	defaultRate       = 25
	defaultBurst      = 50
	defaultSource     = "bridge"
)

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Rate <= 0 {
		o.Rate = defaultRate
	}
	if o.Burst <= 0 {
		o.Burst = defaultBurst
	}
	if o.Source == "" {
		o.Source = defaultSource
	}
	return o
}

// Forwarder owns the line buffer shared by every Handler derived from it.
type Forwarder struct {
	opts    Options
	limiter *rate.Limiter

	mu      sync.Mutex
	lines   []string
	dropped int
	sink    Sink
	stopped bool
}

// New creates a forwarder. Lines are buffered until a sink is attached.
func New(opts Options) *Forwarder {
	opts = opts.withDefaults()
	return &Forwarder{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		lines:   make([]string, 0, opts.BufferSize),
	}
}

// Attach sets the destination of forwarded lines.
func (f *Forwarder) Attach(sink Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

// Handler wraps next so every record it handles is also buffered.
func (f *Forwarder) Handler(next slog.Handler) slog.Handler {
	return &handler{next: next, fwd: f, source: f.opts.Source}
}

// push appends a line, evicting the oldest when the buffer is full.
func (f *Forwarder) push(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	if len(f.lines) >= f.opts.BufferSize {
		f.lines = f.lines[1:]
		f.dropped++
	}
	f.lines = append(f.lines, line)
}

// Buffered returns the number of lines waiting to be forwarded.
func (f *Forwarder) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

// Flush forwards up to one batch of lines, limited by the rate budget.
// Nothing is taken from the buffer while the sink is not ready.
func (f *Forwarder) Flush(ctx context.Context) error {
	return f.flush(ctx, f.opts.BatchSize, true)
}

// Stop forwards everything still buffered, ignoring batch and rate limits,
// and stops buffering.
func (f *Forwarder) Stop(ctx context.Context) error {
	err := f.flush(ctx, -1, false)
	f.mu.Lock()
	f.stopped = true
	f.lines = nil
	f.mu.Unlock()
	return err
}

func (f *Forwarder) flush(ctx context.Context, max int, limited bool) error {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil || !sink.Ready() {
		return nil
	}

	f.mu.Lock()
	n := len(f.lines)
	if max >= 0 && n > max {
		n = max
	}
	if limited {
		granted := 0
		for granted < n && f.limiter.Allow() {
			granted++
		}
		n = granted
	}
	batch := make([]string, n)
	copy(batch, f.lines[:n])
	f.lines = f.lines[n:]
	dropped := f.dropped
	f.dropped = 0
	f.mu.Unlock()

	if dropped > 0 {
		sink.BroadcastEvent(domain.EventLog, map[string]any{
			"msg": fmt.Sprintf("[WARN] [%s] %d log lines dropped", f.opts.Source, dropped),
		})
	}
	for _, line := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.BroadcastEvent(domain.EventLog, map[string]any{"msg": line})
	}
	return nil
}

type handler struct {
	next   slog.Handler
	fwd    *Forwarder
	source string
	skip   bool
	attrs  []slog.Attr
	group  string
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level) || (!h.skip && level >= h.fwd.opts.Level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if !h.skip && r.Level >= h.fwd.opts.Level {
		h.fwd.push(h.format(r))
	}
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	for _, a := range attrs {
		if a.Key != "component" || h.group != "" {
			continue
		}
		c.source = a.Value.String()
		if c.source == link.Component {
			c.skip = true
		}
	}
	return &c
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}

// format renders "[LEVEL] [source] message key=value ...".
func (h *handler) format(r slog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", r.Level.String(), h.source, r.Message)
	for _, a := range h.attrs {
		if a.Key == "component" {
			continue
		}
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	return b.String()
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}
