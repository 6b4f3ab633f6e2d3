// Package bloom provides the Bloom prefilter used by the compiler's dedup pass.
package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-filter/internal/filter/services/compiler"
)

type factory struct{}

// NewFactory returns a compiler.BloomFactory that sizes filters with Size.
func NewFactory() compiler.BloomFactory { return factory{} }

func (factory) New(capacity uint64, fpRate float64) compiler.BloomFilter {
	m, k := Size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}
}
