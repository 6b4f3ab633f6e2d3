package bloom

import "math"

// defaultFPRate applies when the requested rate is outside (0, 1).
const defaultFPRate = 0.01

// Size returns the bit count m and hash count k for n keys at
// false-positive rate p:
//
//	m = -(n * ln p) / (ln 2)^2
//	k = (m / n) * ln 2
//
// Both results are clamped to at least 1.
func Size(n uint64, p float64) (m uint64, k uint8) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = defaultFPRate
	}
	ln2 := math.Ln2
	m = uint64(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	if m == 0 {
		m = 1
	}
	k = uint8(math.Max(1, math.Round((float64(m)/float64(n))*ln2)))
	return m, k
}
