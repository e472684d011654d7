package booking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday numbers the days of the clinic week, which starts on Saturday.
type Weekday int

const (
	Saturday Weekday = iota
	Sunday
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
)

var fromTimeWeekday = [7]Weekday{
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
}

var weekdayNames = [7]string{"saturday", "sunday", "monday", "tuesday", "wednesday", "thursday", "friday"}

// WeekdayOf maps a calendar date to its clinic weekday. Only the date's own
// calendar fields are consulted.
func WeekdayOf(date time.Time) Weekday {
	return fromTimeWeekday[date.Weekday()]
}

func (w Weekday) Valid() bool { return w >= Saturday && w <= Friday }

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Canonical is the single absolute form of an instant used as a correlation
// key: UTC at microsecond precision, which is what timestamptz stores.
func Canonical(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CivilDate is midnight in loc of the calendar day named by date's year,
// month and day fields. date's own location is ignored.
func CivilDate(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DateOf is the calendar day, in loc, on which instant t falls.
func DateOf(t time.Time, loc *time.Location) time.Time {
	return CivilDate(t.In(loc), loc)
}

// dayRange returns the canonical [from, to) bounds of a civil day.
func dayRange(day time.Time) (time.Time, time.Time) {
	return Canonical(day), Canonical(day.AddDate(0, 0, 1))
}

// Clock is a wall-clock time of day, stored as the offset from midnight.
type Clock time.Duration

func NewClock(hour, minute int) Clock {
	return Clock(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// ParseClock accepts "15:04" or "15:04:05".
func ParseClock(s string) (Clock, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return Clock(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second), nil
}

func (c Clock) parts() (h, m, s, ns int) {
	d := time.Duration(c)
	h = int(d / time.Hour)
	m = int(d % time.Hour / time.Minute)
	s = int(d % time.Minute / time.Second)
	ns = int(d % time.Second)
	return
}

func (c Clock) String() string {
	h, m, s, _ := c.parts()
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// On places c on the civil day of date in loc.
func (c Clock) On(date time.Time, loc *time.Location) time.Time {
	y, mo, d := date.Date()
	h, m, s, ns := c.parts()
	return time.Date(y, mo, d, h, m, s, ns, loc)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time of day must be a string: %w", err)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
