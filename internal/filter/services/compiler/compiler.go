// Package compiler turns filter-list lines into a deduplicated ruleset in the
// host engine's schema.
package compiler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/parsers"
)

// ErrTimeout is returned when a compile runs past its deadline.
var ErrTimeout = errors.New("compile timed out")

const (
	// DefaultTimeout bounds one compile when Options.Timeout is zero.
	DefaultTimeout = 10 * time.Second
	// DefaultFPRate is the Bloom false-positive target for the dedup prefilter.
	DefaultFPRate = 0.01
	// maxScanLine is the scanner buffer for CompileReader. Longer lines are
	// still rejected by the parser's own ceiling; this only keeps Scan going.
	maxScanLine = 1 << 20
	// deadlineEvery is how many lines are processed between deadline checks.
	deadlineEvery = 256
)

// Options configures a Compiler.
type Options struct {
	Logger   log.Logger
	Parser   *parsers.Parser
	Bloom    BloomFactory
	FPRate   float64
	MaxRules int
	Timeout  time.Duration
	Recorder Recorder
}

// Compiler compiles filter lists. It holds no per-call state and is safe for
// concurrent use.
type Compiler struct {
	logger   log.Logger
	parser   *parsers.Parser
	bloom    BloomFactory
	fpRate   float64
	maxRules int
	timeout  time.Duration
	recorder Recorder
}

// New constructs a Compiler, filling unset options with defaults.
func New(opts Options) *Compiler {
	c := &Compiler{
		logger:   opts.Logger,
		parser:   opts.Parser,
		bloom:    opts.Bloom,
		fpRate:   opts.FPRate,
		maxRules: opts.MaxRules,
		timeout:  opts.Timeout,
		recorder: opts.Recorder,
	}
	if c.logger == nil {
		c.logger = log.NewNoopLogger()
	}
	if c.parser == nil {
		c.parser = parsers.New(parsers.Options{})
	}
	if c.fpRate <= 0 || c.fpRate >= 1 {
		c.fpRate = DefaultFPRate
	}
	if c.maxRules <= 0 || c.maxRules > domain.MaxRulesCount {
		c.maxRules = domain.MaxRulesCount
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c
}

// CompileReader reads newline-delimited lines from r and compiles them.
func (c *Compiler) CompileReader(ctx context.Context, r io.Reader) (domain.Ruleset, Stats, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanLine)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, Stats{}, fmt.Errorf("reading filter list: %w", err)
	}
	return c.Compile(ctx, lines)
}

// Compile parses every line in order and returns the compiled rules with
// sequential ids starting at 1. Bad lines are recorded in Stats and never
// abort the batch. On deadline expiry no ruleset is returned.
func (c *Compiler) Compile(ctx context.Context, lines []string) (domain.Ruleset, Stats, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stats := Stats{TotalLines: len(lines)}
	seen := newSeenSet(c.bloom, len(lines), c.fpRate)
	rules := make(domain.Ruleset, 0, min(len(lines), c.maxRules))

	for i, line := range lines {
		if i%deadlineEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, c.ctxError(err, i, len(lines))
			}
		}
		lineNo := i + 1

		parsed, err := c.parser.Parse(line)
		if errors.Is(err, parsers.ErrNotRule) {
			stats.Comments++
			continue
		}
		if err != nil {
			reason := err.Error()
			var re *parsers.RejectError
			if errors.As(err, &re) {
				reason = string(re.Reason)
			}
			stats.addError(lineNo, strings.TrimSpace(line), reason)
			c.logger.Debug(map[string]any{"line": lineNo, "reason": reason}, "parse_rejected")
			continue
		}

		if !seen.insert(dedupKey(parsed)) {
			stats.Duplicates++
			continue
		}
		if len(rules) >= c.maxRules {
			stats.addError(lineNo, parsed.SourceText, ReasonRuleLimit)
			continue
		}
		rule, err := buildRule(parsed, len(rules)+1)
		if err != nil {
			stats.addError(lineNo, parsed.SourceText, err.Error())
			continue
		}
		rules = append(rules, rule)
	}

	stats.ProcessedRules = len(rules)
	elapsed := time.Since(start)
	c.recorder.ObserveCompile(stats.ProcessedRules, stats.Duplicates, stats.Errors, elapsed)
	c.logger.Info(map[string]any{
		"lines":      stats.TotalLines,
		"rules":      stats.ProcessedRules,
		"duplicates": stats.Duplicates,
		"errors":     stats.Errors,
		"elapsed":    elapsed.String(),
	}, "compile_complete")
	return rules, stats, nil
}

func (c *Compiler) ctxError(err error, done, total int) error {
	c.logger.Warn(map[string]any{"processed_lines": done, "total_lines": total}, "compile_aborted")
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// seenSet is the exact dedup set fronted by an optional Bloom filter: a
// definite negative from the filter skips the map probe.
type seenSet struct {
	bloom BloomFilter
	keys  map[string]struct{}
}

func newSeenSet(f BloomFactory, capacity int, fpRate float64) *seenSet {
	s := &seenSet{keys: make(map[string]struct{}, capacity)}
	if f != nil {
		s.bloom = f.New(uint64(capacity), fpRate)
	}
	return s
}

// insert adds key and reports whether it was new.
func (s *seenSet) insert(key string) bool {
	if s.bloom != nil {
		k := []byte(key)
		if !s.bloom.MightContain(k) {
			s.bloom.Add(k)
			s.keys[key] = struct{}{}
			return true
		}
	}
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	if s.bloom != nil {
		s.bloom.Add([]byte(key))
	}
	return true
}
