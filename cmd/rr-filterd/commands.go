package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/parsers"
)

// maxListLine is the scanner buffer for dedupe. Overlong lines are kept
// as-is; the compiler rejects them later.
const maxListLine = 1 << 20

// compileFile compiles the filter list at in, validates the result and
// writes the JSON ruleset to out.
func (a *Application) compileFile(ctx context.Context, in, out string, sw summaryWriter) error {
	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("failed to open filter list: %w", err)
	}
	defer f.Close()

	rs, stats, err := a.compiler.CompileReader(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to compile %s: %w", in, err)
	}
	rep, err := a.validator.Validate(ctx, rs)
	if err != nil {
		return fmt.Errorf("failed to validate compiled ruleset: %w", err)
	}
	if !rep.IsValid {
		if werr := sw.write(rep); werr != nil {
			return werr
		}
		return rep.Err()
	}
	if err := writeRuleset(out, rs); err != nil {
		return err
	}
	a.logger.Info(map[string]any{
		"input":      in,
		"output":     out,
		"rules":      len(rs),
		"duplicates": stats.Duplicates,
		"errors":     stats.Errors,
	}, "compile_finished")
	return sw.write(stats)
}

// validateFile validates the JSON ruleset at path. An invalid ruleset prints
// its report and fails.
func (a *Application) validateFile(ctx context.Context, path string, sw summaryWriter) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read ruleset: %w", err)
	}
	rep, err := a.validator.ValidateJSON(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to validate %s: %w", path, err)
	}
	if err := sw.write(rep); err != nil {
		return err
	}
	return rep.Err()
}

// dedupeFile writes the trimmed, deduplicated and sorted lines of in to out.
func dedupeFile(in, out string, sw summaryWriter) error {
	lines, err := readLines(in)
	if err != nil {
		return err
	}
	kept := parsers.Dedupe(lines)
	body := strings.Join(kept, "\n")
	if len(kept) > 0 {
		body += "\n"
	}
	if err := os.WriteFile(out, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return sw.write(dedupeSummary{
		InputLines:  len(lines),
		OutputLines: len(kept),
		Removed:     len(lines) - len(kept),
	})
}

// activateFile installs the JSON ruleset at path as the bulk range.
func (a *Application) activateFile(ctx context.Context, path string, sw summaryWriter) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read ruleset: %w", err)
	}
	rep, err := a.validator.ValidateJSON(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to validate %s: %w", path, err)
	}
	if !rep.IsValid {
		if werr := sw.write(rep); werr != nil {
			return werr
		}
		return rep.Err()
	}
	var rs domain.Ruleset
	if err := json.Unmarshal(data, &rs); err != nil {
		return fmt.Errorf("failed to decode ruleset: %w", err)
	}
	if _, err := a.activator.Activate(ctx, rs); err != nil {
		return fmt.Errorf("failed to activate ruleset: %w", err)
	}
	return sw.write(activateSummary{Rules: len(rs), Range: domain.RangeBulk})
}

// disable replaces the disabled-site list and reinstalls its allow rules.
func (a *Application) disable(ctx context.Context, sites []string, sw summaryWriter) error {
	if err := a.overrides.SetDisabled(ctx, sites); err != nil {
		return fmt.Errorf("failed to disable sites: %w", err)
	}
	stored, err := a.overrides.Disabled(ctx)
	if err != nil {
		return err
	}
	return sw.write(disableSummary{Disabled: stored})
}

// setAllowed allows or revokes name and applies the resulting decision to
// the adaptive range before saving state.
func (a *Application) setAllowed(ctx context.Context, name string, allow bool, sw summaryWriter) error {
	if err := a.engine.Load(ctx); err != nil {
		return fmt.Errorf("failed to load tracking state: %w", err)
	}
	if err := a.reconciler.Sync(ctx); err != nil {
		return fmt.Errorf("failed to read adaptive rules: %w", err)
	}
	change := a.engine.Revoke
	if allow {
		change = a.engine.Allow
	}
	if err := change(name); err != nil {
		return err
	}
	a.reconciler.Drain(ctx)
	if err := a.engine.Persist(ctx); err != nil {
		return fmt.Errorf("failed to save tracking state: %w", err)
	}
	return sw.write(a.domainSummary(name))
}

func (a *Application) domainSummary(name string) domainSummary {
	s := domainSummary{Domain: name, Status: a.engine.Status(name).String()}
	if rec, ok := a.engine.Record(name); ok {
		s.Domain = rec.Domain
		s.Score = rec.Score
		s.Sites = rec.SiteCount()
	}
	return s
}

// status summarizes the rule engine, id ranges and tracking state.
func (a *Application) status(ctx context.Context, sw summaryWriter) error {
	if err := a.engine.Load(ctx); err != nil {
		return fmt.Errorf("failed to load tracking state: %w", err)
	}
	disabled, err := a.overrides.Disabled(ctx)
	if err != nil {
		return err
	}
	count, updated := a.rules.Stats()
	st := statusSummary{
		Rules:    count,
		Disabled: disabled,
		Blocked:  a.engine.Blocked(),
		Allowed:  a.engine.Allowed(),
	}
	if !updated.IsZero() {
		st.LastUpdated = updated.UTC().Format(time.RFC3339)
	}
	for _, r := range a.space.Ranges() {
		active, err := a.space.Active(ctx, r.Name)
		if err != nil {
			return fmt.Errorf("failed to read range %s: %w", r.Name, err)
		}
		st.Ranges = append(st.Ranges, rangeSummary{Name: r.Name, Start: r.Start, End: r.End, Active: len(active)})
	}
	snap, err := a.engine.Snapshot()
	if err != nil {
		return err
	}
	st.Tracked = len(snap.Records)
	return sw.write(st)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), maxListLine)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

func writeRuleset(path string, rs domain.Ruleset) error {
	if rs == nil {
		rs = domain.Ruleset{}
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ruleset: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
