package heuristic

import "time"

// Config holds the scoring and lifecycle constants. Zero fields take the
// value from DefaultConfig.
type Config struct {
	CrossSiteWeight          float64
	CrossSiteCap             float64
	FrequencyWeight          float64
	FrequencyCap             float64
	IndicatorBonus           float64
	BlockingScore            float64
	MinSitesForBlocking      int
	MinIndicatorsForBlocking int
	CrossSiteIndicatorSites  int
	DecayGrace               time.Duration
	DecayFull                time.Duration
	DecayFloor               float64
	MaxRecordAge             time.Duration
	CleanupInterval          time.Duration
}

// DefaultConfig returns the stock constants.
func DefaultConfig() Config {
	return Config{
		CrossSiteWeight:          8,
		CrossSiteCap:             40,
		FrequencyWeight:          0.1,
		FrequencyCap:             20,
		IndicatorBonus:           5,
		BlockingScore:            30,
		MinSitesForBlocking:      3,
		MinIndicatorsForBlocking: 2,
		CrossSiteIndicatorSites:  3,
		DecayGrace:               7 * 24 * time.Hour,
		DecayFull:                30 * 24 * time.Hour,
		DecayFloor:               0.1,
		MaxRecordAge:             30 * 24 * time.Hour,
		CleanupInterval:          time.Hour,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CrossSiteWeight <= 0 {
		c.CrossSiteWeight = d.CrossSiteWeight
	}
	if c.CrossSiteCap <= 0 {
		c.CrossSiteCap = d.CrossSiteCap
	}
	if c.FrequencyWeight <= 0 {
		c.FrequencyWeight = d.FrequencyWeight
	}
	if c.FrequencyCap <= 0 {
		c.FrequencyCap = d.FrequencyCap
	}
	if c.IndicatorBonus <= 0 {
		c.IndicatorBonus = d.IndicatorBonus
	}
	if c.BlockingScore <= 0 {
		c.BlockingScore = d.BlockingScore
	}
	if c.MinSitesForBlocking <= 0 {
		c.MinSitesForBlocking = d.MinSitesForBlocking
	}
	if c.MinIndicatorsForBlocking <= 0 {
		c.MinIndicatorsForBlocking = d.MinIndicatorsForBlocking
	}
	if c.CrossSiteIndicatorSites <= 0 {
		c.CrossSiteIndicatorSites = d.CrossSiteIndicatorSites
	}
	if c.DecayGrace <= 0 {
		c.DecayGrace = d.DecayGrace
	}
	if c.DecayFull <= c.DecayGrace {
		c.DecayFull = c.DecayGrace + (d.DecayFull - d.DecayGrace)
	}
	if c.DecayFloor <= 0 || c.DecayFloor > 1 {
		c.DecayFloor = d.DecayFloor
	}
	if c.MaxRecordAge <= 0 {
		c.MaxRecordAge = d.MaxRecordAge
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}
