package booking

import (
	"sort"
	"time"
)

// Classify resolves one instant: an occupying reservation makes it booked,
// otherwise a cancellation makes it canceled, otherwise it is available.
func Classify(instant time.Time, occupied, canceled map[time.Time]bool) SlotStatus {
	switch {
	case occupied[instant]:
		return SlotBooked
	case canceled[instant]:
		return SlotCanceled
	default:
		return SlotAvailable
	}
}

// DayInputs is everything the day view of one doctor on one date depends on.
type DayInputs struct {
	Date         time.Time
	Location     *time.Location
	Windows      []*AvailabilityWindow
	Exceptions   []*SlotException
	Reservations []*Reservation
}

// BuildDayView assembles the ordered, classified slot list of a day.
func BuildDayView(in DayInputs) []Slot {
	occupied := make(map[time.Time]bool)
	for _, r := range in.Reservations {
		if r.Status.Occupying() {
			occupied[Canonical(r.Instant)] = true
		}
	}
	canceled := make(map[time.Time]bool)
	for _, ex := range in.Exceptions {
		if ex.Cancellation {
			canceled[Canonical(ex.Instant)] = true
		}
	}

	var grid []Slot
	seen := make(map[time.Time]bool)
	for _, w := range in.Windows {
		if !w.Active {
			continue
		}
		for _, at := range Generate(w, in.Date, in.Location) {
			if seen[at] {
				continue
			}
			seen[at] = true
			grid = append(grid, Slot{Instant: at, Status: SlotAvailable, Shift: w.Shift})
		}
	}

	slots := ApplyExceptions(grid, in.Exceptions, occupied)
	for i := range slots {
		slots[i].Status = Classify(slots[i].Instant, occupied, canceled)
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Instant.Before(slots[j].Instant)
	})
	return slots
}

// slotAt finds the slot at instant, if the day lists one.
func slotAt(slots []Slot, instant time.Time) (Slot, bool) {
	for _, s := range slots {
		if s.Instant.Equal(instant) {
			return s, true
		}
	}
	return Slot{}, false
}
