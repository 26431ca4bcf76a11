package logforward

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamebridge/internal/domain"
	"gamebridge/internal/usecase/link"
)

type fakeSink struct {
	ready atomic.Bool
	mu    sync.Mutex
	lines []string
}

func newSink(ready bool) *fakeSink {
	s := &fakeSink{}
	s.ready.Store(ready)
	return s
}

func (s *fakeSink) Ready() bool { return s.ready.Load() }

func (s *fakeSink) BroadcastEvent(t domain.EventType, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t != domain.EventLog {
		panic("unexpected event " + string(t))
	}
	s.lines = append(s.lines, data["msg"].(string))
}

func (s *fakeSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func setup(t *testing.T, opts Options, ready bool) (*Forwarder, *fakeSink, *slog.Logger, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	fwd := New(opts)
	sink := newSink(ready)
	fwd.Attach(sink)
	logger := slog.New(fwd.Handler(slog.NewTextHandler(&out, nil)))
	return fwd, sink, logger, &out
}

func TestTeeAndFlush(t *testing.T) {
	fwd, sink, logger, out := setup(t, Options{}, true)

	logger.Info("server started", "port", 7777)
	assert.Contains(t, out.String(), "server started")
	require.Equal(t, 1, fwd.Buffered())

	require.NoError(t, fwd.Flush(context.Background()))
	assert.Equal(t, []string{"[INFO] [bridge] server started port=7777"}, sink.got())
	assert.Equal(t, 0, fwd.Buffered())
}

func TestComponentNamesSourceAndLinkIsSkipped(t *testing.T) {
	fwd, sink, logger, out := setup(t, Options{}, true)

	logger.With("component", link.Component, "endpoint", "takaro").Warn("reconnecting")
	assert.Contains(t, out.String(), "reconnecting", "link lines still reach the local log")
	assert.Equal(t, 0, fwd.Buffered())

	logger.With("component", "eventbus").Info("subscriber added", "id", 3)
	require.NoError(t, fwd.Flush(context.Background()))
	assert.Equal(t, []string{"[INFO] [eventbus] subscriber added id=3"}, sink.got())
}

func TestFlushWaitsForReadySink(t *testing.T) {
	fwd, sink, logger, _ := setup(t, Options{}, false)

	logger.Info("one")
	logger.Info("two")
	require.NoError(t, fwd.Flush(context.Background()))
	assert.Empty(t, sink.got())
	assert.Equal(t, 2, fwd.Buffered())

	sink.ready.Store(true)
	require.NoError(t, fwd.Flush(context.Background()))
	assert.Equal(t, []string{"[INFO] [bridge] one", "[INFO] [bridge] two"}, sink.got())
}

func TestFlushWithoutSink(t *testing.T) {
	fwd := New(Options{})
	logger := slog.New(fwd.Handler(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	logger.Info("early")
	require.NoError(t, fwd.Flush(context.Background()))
	assert.Equal(t, 1, fwd.Buffered())
}

func TestBatchSize(t *testing.T) {
	fwd, sink, logger, _ := setup(t, Options{BatchSize: 3, Rate: 1000, Burst: 1000}, true)
	for range 5 {
		logger.Info("line")
	}
	require.NoError(t, fwd.Flush(context.Background()))
	assert.Len(t, sink.got(), 3)
	assert.Equal(t, 2, fwd.Buffered())
}

func TestRateBudget(t *testing.T) {
	fwd, sink, logger, _ := setup(t, Options{Rate: 0.001, Burst: 2}, true)
	for range 5 {
		logger.Info("line")
	}
	require.NoError(t, fwd.Flush(context.Background()))
	assert.Len(t, sink.got(), 2)
	assert.Equal(t, 3, fwd.Buffered())

	require.NoError(t, fwd.Flush(context.Background()))
	assert.Len(t, sink.got(), 2, "budget exhausted")
}

func TestOverflowDropsOldest(t *testing.T) {
	fwd, sink, logger, _ := setup(t, Options{BufferSize: 2}, true)
	logger.Info("a")
	logger.Info("b")
	logger.Info("c")
	assert.Equal(t, 2, fwd.Buffered())

	require.NoError(t, fwd.Flush(context.Background()))
	assert.Equal(t, []string{
		"[WARN] [bridge] 1 log lines dropped",
		"[INFO] [bridge] b",
		"[INFO] [bridge] c",
	}, sink.got())
}

func TestLevelThreshold(t *testing.T) {
	fwd, sink, logger, out := setup(t, Options{Level: slog.LevelWarn}, true)
	logger.Info("chatty")
	logger.Error("disk full")
	assert.Contains(t, out.String(), "chatty")

	require.NoError(t, fwd.Flush(context.Background()))
	assert.Equal(t, []string{"[ERROR] [bridge] disk full"}, sink.got())
}

func TestForwardsBelowLocalLevel(t *testing.T) {
	fwd, sink, logger, out := setup(t, Options{Level: slog.LevelDebug}, true)
	logger.Debug("probe")
	assert.NotContains(t, out.String(), "probe")

	require.NoError(t, fwd.Flush(context.Background()))
	assert.Equal(t, []string{"[DEBUG] [bridge] probe"}, sink.got())
}

func TestGroupsPrefixKeys(t *testing.T) {
	fwd, sink, logger, _ := setup(t, Options{}, true)
	logger.WithGroup("req").Info("handled", "id", 1, slog.Group("player", "name", "Steve"))

	require.NoError(t, fwd.Flush(context.Background()))
	assert.Equal(t, []string{"[INFO] [bridge] handled req.id=1 req.player.name=Steve"}, sink.got())
}

func TestStopFlushesEverything(t *testing.T) {
	fwd, sink, logger, _ := setup(t, Options{BatchSize: 1, Rate: 0.001, Burst: 1}, true)
	for range 4 {
		logger.Info("bye")
	}
	require.NoError(t, fwd.Stop(context.Background()))
	assert.Len(t, sink.got(), 4)

	logger.Info("after stop")
	assert.Equal(t, 0, fwd.Buffered())
}

func TestConcurrentLogging(t *testing.T) {
	fwd, sink, logger, _ := setup(t, Options{BufferSize: 10000, BatchSize: 10000, Rate: 1e6, Burst: 10000}, true)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				logger.Info("tick")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, fwd.Flush(context.Background()))
	assert.Len(t, sink.got(), 400)
}
