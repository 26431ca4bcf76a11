// Package hostfeed reads game events written by the host process, one JSON
// object per line, and publishes them on the event bus.
//
//	{"type":"player-connected","data":{"player":{"name":"Steve","gameId":"1"}}}
package hostfeed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gamebridge/internal/domain"
)

const maxLineSize = 1 << 20

// Feed publishes events read from r.
type Feed struct {
	r      io.Reader
	bus    domain.EventBus
	logger *slog.Logger
}

// New creates a feed over r.
func New(r io.Reader, bus domain.EventBus, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{r: r, bus: bus, logger: logger}
}

// Run reads until EOF, a read error or ctx is done. Malformed lines are
// logged and skipped. It returns the number of events published.
func (f *Feed) Run(ctx context.Context) (int, error) {
	scanner := bufio.NewScanner(f.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	published := 0
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		event, err := parseLine(line)
		if err != nil {
			f.logger.Warn("skipping host event", "line", lineNo, "error", err)
			continue
		}
		f.bus.Publish(ctx, event)
		published++
	}
	if err := scanner.Err(); err != nil {
		return published, fmt.Errorf("read host events: %w", err)
	}
	return published, nil
}

func parseLine(line string) (domain.GameEvent, error) {
	var event domain.GameEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return domain.GameEvent{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	if event.Type == "" {
		return domain.GameEvent{}, fmt.Errorf("%w: missing event type", domain.ErrProtocol)
	}
	return event, nil
}
