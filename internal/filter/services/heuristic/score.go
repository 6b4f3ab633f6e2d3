package heuristic

import (
	"time"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

const maxScore = 100

// rawScore is the undecayed score of a record.
func (c Config) rawScore(rec *domain.TrackingRecord) float64 {
	cross := min(float64(rec.SiteCount())*c.CrossSiteWeight, c.CrossSiteCap)
	freq := min(float64(rec.RequestCount)*c.FrequencyWeight, c.FrequencyCap)
	bonus := float64(rec.IndicatorCount()) * c.IndicatorBonus
	return min(maxScore, cross+freq+bonus)
}

// decay is 1 until DecayGrace has passed since the last observation, then
// falls linearly to DecayFloor at DecayFull and stays there.
func (c Config) decay(idle time.Duration) float64 {
	switch {
	case idle <= c.DecayGrace:
		return 1
	case idle >= c.DecayFull:
		return c.DecayFloor
	}
	frac := float64(idle-c.DecayGrace) / float64(c.DecayFull-c.DecayGrace)
	return 1 - (1-c.DecayFloor)*frac
}

// score is the decayed score of rec at now.
func (c Config) score(rec *domain.TrackingRecord, now time.Time) float64 {
	return c.rawScore(rec) * c.decay(now.Sub(rec.LastSeen))
}

// shouldBlock applies the auto-block rule to a freshly scored record.
func (c Config) shouldBlock(rec *domain.TrackingRecord) bool {
	if rec.SiteCount() < c.MinSitesForBlocking {
		return false
	}
	return rec.Score >= c.BlockingScore || rec.IndicatorCount() >= c.MinIndicatorsForBlocking
}
