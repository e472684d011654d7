package booking

import (
	"time"

	ics "github.com/arran4/golang-ical"
)

const defaultVisitLength = 10 * time.Minute

// PatientsCalendar renders a day's patient list as an iCalendar feed. Each
// event lasts visit, or ten minutes when visit is not positive.
func PatientsCalendar(d *Doctor, patients []*Reservation, visit time.Duration, stamp time.Time) string {
	if visit <= 0 {
		visit = defaultVisitLength
	}
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//nobat//patients//EN")
	cal.SetName(d.Name)

	for _, r := range patients {
		ev := cal.AddEvent(r.ID.String() + "@nobat")
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(r.Instant)
		ev.SetEndAt(r.Instant.Add(visit))
		ev.SetSummary(r.Name)
		desc := "Phone: " + r.Phone + "\nInsurance: " + string(r.Insurance) + "\nStatus: " + string(r.Status)
		if r.ProblemDescription != "" {
			desc += "\n" + r.ProblemDescription
		}
		ev.SetDescription(desc)
	}
	return cal.Serialize()
}

// visitLength is the shortest slot interval of the active windows on weekday.
func visitLength(windows []*AvailabilityWindow, weekday Weekday) time.Duration {
	var shortest time.Duration
	for _, w := range windows {
		if w.Weekday != weekday || !w.Active || w.SlotCount <= 0 {
			continue
		}
		if iv := w.Interval(); shortest == 0 || iv < shortest {
			shortest = iv
		}
	}
	return shortest
}
