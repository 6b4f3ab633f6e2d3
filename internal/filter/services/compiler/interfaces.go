package compiler

import "time"

// BloomFilter is the minimal interface the dedup pass needs from a Bloom filter.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds a filter sized for capacity keys at the given false-positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// Recorder receives one summary per finished compile.
type Recorder interface {
	ObserveCompile(rules, duplicates, errors int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCompile(int, int, int, time.Duration) {}
