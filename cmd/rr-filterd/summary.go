package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

// summaryWriter prints command results in the selected format.
type summaryWriter struct {
	w      io.Writer
	format string
}

func (s summaryWriter) write(v any) error {
	if s.format == formatJSON {
		enc := json.NewEncoder(s.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(s.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	return enc.Close()
}

type dedupeSummary struct {
	InputLines  int `json:"inputLines" yaml:"input_lines"`
	OutputLines int `json:"outputLines" yaml:"output_lines"`
	Removed     int `json:"removed" yaml:"removed"`
}

type activateSummary struct {
	Rules int    `json:"rules" yaml:"rules"`
	Range string `json:"range" yaml:"range"`
}

type disableSummary struct {
	Disabled []string `json:"disabled" yaml:"disabled"`
}

type domainSummary struct {
	Domain string  `json:"domain" yaml:"domain"`
	Status string  `json:"status" yaml:"status"`
	Score  float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Sites  int     `json:"sites,omitempty" yaml:"sites,omitempty"`
}

type rangeSummary struct {
	Name   string `json:"name" yaml:"name"`
	Start  int    `json:"start" yaml:"start"`
	End    int    `json:"end" yaml:"end"`
	Active int    `json:"active" yaml:"active"`
}

type statusSummary struct {
	Rules       int            `json:"rules" yaml:"rules"`
	LastUpdated string         `json:"lastUpdated,omitempty" yaml:"last_updated,omitempty"`
	Ranges      []rangeSummary `json:"ranges" yaml:"ranges"`
	Disabled    []string       `json:"disabled" yaml:"disabled"`
	Blocked     []string       `json:"blocked" yaml:"blocked"`
	Allowed     []string       `json:"allowed" yaml:"allowed"`
	Tracked     int            `json:"tracked" yaml:"tracked"`
}
