package campaign

import (
	"testing"
	"time"
)

func window(start, end, weekdays, tz string) Campaign {
	return Campaign{
		CallHoursStart: start,
		CallHoursEnd:   end,
		Weekdays:       weekdays,
		Timezone:       tz,
	}
}

// 2026-01-05 is a Monday.
func at(t *testing.T, tz, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load tz %s: %v", tz, err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse %s: %v", value, err)
	}
	return ts
}

func TestInCallWindow_Basic(t *testing.T) {
	c := window("09:00", "18:00", "12345", "UTC")

	if !c.InCallWindow(at(t, "UTC", "2026-01-05 10:30")) {
		t.Fatalf("mid-morning Monday should be inside the window")
	}
	if c.InCallWindow(at(t, "UTC", "2026-01-05 08:59")) {
		t.Fatalf("before start should be outside")
	}
	if c.InCallWindow(at(t, "UTC", "2026-01-05 18:00")) {
		t.Fatalf("end is exclusive")
	}
	if c.InCallWindow(at(t, "UTC", "2026-01-04 10:30")) {
		t.Fatalf("Sunday is not in 12345")
	}
}

func TestInCallWindow_Timezone(t *testing.T) {
	c := window("09:00", "18:00", "12345", "America/New_York")

	// 14:00 UTC on a Monday is 09:00 in New York.
	if !c.InCallWindow(at(t, "UTC", "2026-01-05 14:00")) {
		t.Fatalf("expected inside: window evaluates in campaign tz")
	}
	// 13:00 UTC is 08:00 in New York.
	if c.InCallWindow(at(t, "UTC", "2026-01-05 13:00")) {
		t.Fatalf("expected outside: still early in campaign tz")
	}
}

func TestInCallWindow_CrossesMidnight(t *testing.T) {
	c := window("20:00", "02:00", "", "UTC")

	if !c.InCallWindow(at(t, "UTC", "2026-01-05 23:00")) {
		t.Fatalf("23:00 inside 20:00-02:00")
	}
	if !c.InCallWindow(at(t, "UTC", "2026-01-05 01:00")) {
		t.Fatalf("01:00 inside 20:00-02:00")
	}
	if c.InCallWindow(at(t, "UTC", "2026-01-05 12:00")) {
		t.Fatalf("noon outside 20:00-02:00")
	}
}

func TestInCallWindow_MalformedFailsClosed(t *testing.T) {
	c := window("9am", "18:00", "", "UTC")
	if c.InCallWindow(at(t, "UTC", "2026-01-05 10:00")) {
		t.Fatalf("malformed window must not dial")
	}
}

func TestInCallWindow_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	c := window("09:00", "18:00", "", "Mars/Olympus")
	if !c.InCallWindow(at(t, "UTC", "2026-01-05 10:00")) {
		t.Fatalf("unknown tz should evaluate in UTC")
	}
}

func TestWeekdayActive(t *testing.T) {
	if !weekdayActive("", time.Sunday) {
		t.Fatalf("empty mask is every day")
	}
	if !weekdayActive("67", time.Sunday) {
		t.Fatalf("Sunday is ISO 7")
	}
	if weekdayActive("12345", time.Saturday) {
		t.Fatalf("Saturday is ISO 6")
	}
	if !weekdayActive("1", time.Monday) {
		t.Fatalf("Monday is ISO 1")
	}
}

func TestValidPhone(t *testing.T) {
	valid := []string{"+15550001111", "15550001111", "5551234"}
	for _, p := range valid {
		if !ValidPhone(p) {
			t.Fatalf("expected valid: %q", p)
		}
	}
	invalid := []string{"", "555-000-1111", "abc", "+1555+000", "123456", "+123456789012345678"}
	for _, p := range invalid {
		if ValidPhone(p) {
			t.Fatalf("expected invalid: %q", p)
		}
	}
}
