package domain

import (
	"errors"
	"fmt"
	"sort"
)

// Names of the standard id ranges.
const (
	RangeOverride = "override"
	RangeBulk     = "bulk"
	RangeAdaptive = "adaptive"
)

var (
	ErrRangeOverlap  = errors.New("id ranges overlap")
	ErrRangeBounds   = errors.New("id range out of bounds")
	ErrRangeGap      = errors.New("id ranges leave a gap")
	ErrRangeDupName  = errors.New("duplicate id range name")
	ErrRangeEmptySet = errors.New("no id ranges configured")
)

// IDRange is a closed interval [Start, End] of rule ids reserved for one
// category of generated rules.
type IDRange struct {
	Name  string
	Start int
	End   int
}

// DefaultIDRanges partitions [1, MaxRuleID].
var DefaultIDRanges = []IDRange{
	{Name: RangeOverride, Start: 1, End: 999},
	{Name: RangeBulk, Start: 1000, End: 9999},
	{Name: RangeAdaptive, Start: 10000, End: MaxRuleID},
}

// Contains reports whether id lies within the range.
func (r IDRange) Contains(id int) bool { return id >= r.Start && id <= r.End }

// Size is the number of ids in the range.
func (r IDRange) Size() int { return r.End - r.Start + 1 }

func (r IDRange) String() string { return fmt.Sprintf("%s[%d-%d]", r.Name, r.Start, r.End) }

// ValidatePartition checks that ranges are well formed, uniquely named,
// disjoint and together cover exactly [1, maxID].
func ValidatePartition(ranges []IDRange, maxID int) error {
	if len(ranges) == 0 {
		return ErrRangeEmptySet
	}
	sorted := make([]IDRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	names := make(map[string]struct{}, len(ranges))
	next := 1
	for _, r := range sorted {
		if r.Name == "" {
			return fmt.Errorf("%w: unnamed range %s", ErrRangeBounds, r)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("%w: %q", ErrRangeDupName, r.Name)
		}
		names[r.Name] = struct{}{}
		if r.Start < 1 || r.End > maxID || r.Start > r.End {
			return fmt.Errorf("%w: %s not within [1-%d]", ErrRangeBounds, r, maxID)
		}
		if r.Start < next {
			return fmt.Errorf("%w: %s", ErrRangeOverlap, r)
		}
		if r.Start > next {
			return fmt.Errorf("%w: ids %d-%d unassigned", ErrRangeGap, next, r.Start-1)
		}
		next = r.End + 1
	}
	if next != maxID+1 {
		return fmt.Errorf("%w: ids %d-%d unassigned", ErrRangeGap, next, maxID)
	}
	return nil
}
