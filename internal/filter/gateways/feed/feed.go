// Package feed reads observed requests as JSON lines and hands each one to
// an Observer.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// maxEventSize bounds one JSON line.
const maxEventSize = 64 * 1024

var errNoURL = errors.New("event has no url")

// Observer consumes request events. heuristic.Engine satisfies it.
type Observer interface {
	Observe(ev domain.RequestEvent)
}

// Stats counts what a Reader consumed.
type Stats struct {
	Lines     int
	Events    int
	Malformed int
}

// Reader decodes events from a stream.
type Reader struct {
	observer Observer
	logger   log.Logger
	clock    clock.Clock
}

// NewReader returns a Reader feeding observer. Events without a timestamp
// are stamped with the clock's time.
func NewReader(observer Observer, logger log.Logger, clk clock.Clock) *Reader {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Reader{observer: observer, logger: logger, clock: clk}
}

// Run reads r until EOF or ctx ends. Malformed lines are logged and
// skipped. It returns ctx.Err() when cancelled and read errors as-is.
func (f *Reader) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var st Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Lines++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := decode(line)
		if err != nil {
			st.Malformed++
			f.logger.Warn(map[string]any{"line": st.Lines, "error": err}, "feed_malformed_event")
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = f.clock.Now()
		}
		f.observer.Observe(ev)
		st.Events++
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("reading feed: %w", err)
	}
	f.logger.Info(map[string]any{"lines": st.Lines, "events": st.Events, "malformed": st.Malformed}, "feed_finished")
	return st, nil
}

func decode(line []byte) (domain.RequestEvent, error) {
	var ev domain.RequestEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return ev, err
	}
	if ev.URL == "" {
		return ev, errNoURL
	}
	return ev, nil
}

