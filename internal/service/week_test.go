package service

import (
	"testing"
	"time"
)

func mustWeekClock(t *testing.T) *WeekClock {
	t.Helper()
	w, err := NewWeekClock("Europe/London")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return w
}

func TestWeekStart(t *testing.T) {
	w := mustWeekClock(t)
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		// 2024-05-08 是周三，英国夏令时 UTC+1
		{"wednesday bst", time.Date(2024, 5, 8, 14, 30, 0, 0, time.UTC), time.Date(2024, 5, 5, 23, 0, 0, 0, time.UTC)},
		{"monday midnight local", time.Date(2024, 5, 5, 23, 0, 0, 0, time.UTC), time.Date(2024, 5, 5, 23, 0, 0, 0, time.UTC)},
		{"sunday late local", time.Date(2024, 5, 5, 22, 59, 59, 0, time.UTC), time.Date(2024, 4, 28, 23, 0, 0, 0, time.UTC)},
		// 冬令时 UTC+0
		{"winter friday", time.Date(2024, 1, 12, 8, 0, 0, 0, time.UTC), time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
		// 跨越 2024-03-31 夏令时切换的那一周
		{"dst switch week", time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC), time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)},
		{"other zone input", time.Date(2024, 5, 6, 6, 0, 0, 0, time.FixedZone("JST", 9*3600)), time.Date(2024, 4, 28, 23, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := w.WeekStart(c.in)
			if !got.Equal(c.want) {
				t.Fatalf("want=%v got=%v", c.want, got)
			}
		})
	}
}

func TestWeekStartIsIdempotentMondayMidnight(t *testing.T) {
	w := mustWeekClock(t)
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 24*400; i += 7 {
		ts := start.Add(time.Duration(i) * time.Hour)
		ws := w.WeekStart(ts)
		local := ws.In(w.Location())
		if local.Weekday() != time.Monday || local.Hour() != 0 || local.Minute() != 0 || local.Second() != 0 {
			t.Fatalf("%v: week start %v is not Monday midnight", ts, local)
		}
		if again := w.WeekStart(ws); !again.Equal(ws) {
			t.Fatalf("%v: not idempotent want=%v got=%v", ts, ws, again)
		}
		if ws.After(ts) {
			t.Fatalf("%v: week start %v after input", ts, ws)
		}
	}
}

func TestDaysElapsed(t *testing.T) {
	w := mustWeekClock(t)
	cases := []struct {
		in   time.Time
		want int
	}{
		{time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), 3},
		{time.Date(2024, 1, 14, 23, 59, 0, 0, time.UTC), 7},
	}
	for _, c := range cases {
		if got := w.DaysElapsed(c.in); got != c.want {
			t.Fatalf("%v: want=%d got=%d", c.in, c.want, got)
		}
	}
}
