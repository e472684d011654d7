package booking

import "time"

// Generate expands w into its slot instants on date, in loc. The result has
// exactly w.SlotCount canonical instants; a window without slots yields none.
func Generate(w *AvailabilityWindow, date time.Time, loc *time.Location) []time.Time {
	if w.SlotCount <= 0 {
		return nil
	}
	start := w.Start.On(date, loc)
	interval := w.Interval()

	instants := make([]time.Time, w.SlotCount)
	for i := range instants {
		instants[i] = Canonical(start.Add(time.Duration(i) * interval))
	}
	return instants
}
