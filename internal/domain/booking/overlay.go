package booking

import "time"

// ApplyExceptions merges the day's exceptions onto the generated grid.
// Cancellations mark matching slots canceled but keep them listed. Additions
// append an available slot when the instant is neither generated nor
// occupied. A cancellation wins over an addition at the same instant.
func ApplyExceptions(grid []Slot, exceptions []*SlotException, occupied map[time.Time]bool) []Slot {
	canceled := make(map[time.Time]bool)
	for _, ex := range exceptions {
		if ex.Cancellation {
			canceled[Canonical(ex.Instant)] = true
		}
	}

	merged := make([]Slot, 0, len(grid)+len(exceptions))
	present := make(map[time.Time]bool, len(grid))
	for _, s := range grid {
		if canceled[s.Instant] {
			s.Status = SlotCanceled
		}
		present[s.Instant] = true
		merged = append(merged, s)
	}

	for _, ex := range exceptions {
		at := Canonical(ex.Instant)
		if ex.Cancellation || present[at] || occupied[at] || canceled[at] {
			continue
		}
		present[at] = true
		merged = append(merged, Slot{Instant: at, Status: SlotAvailable, Added: true})
	}
	return merged
}
