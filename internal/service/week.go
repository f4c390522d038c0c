package service

import (
	"time"

	"therapy_backend/internal/util"
)

// WeekClock 在固定参考时区内计算自然周（周一 00:00 开始）
type WeekClock struct {
	loc *time.Location
}

func NewWeekClock(timezone string) (*WeekClock, error) {
	if timezone == "" {
		timezone = util.DefaultReferenceTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &WeekClock{loc: loc}, nil
}

func (w *WeekClock) Location() *time.Location {
	return w.loc
}

// daysSinceMonday 周一为 0，周日为 6
func daysSinceMonday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// WeekStart 返回 t 所在周的周一 00:00（参考时区），以 UTC 表示
func (w *WeekClock) WeekStart(t time.Time) time.Time {
	local := t.In(w.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d-daysSinceMonday(local), 0, 0, 0, 0, w.loc).UTC()
}

// DaysElapsed 本周已经过的天数（含今天），取值 1..7
func (w *WeekClock) DaysElapsed(now time.Time) int {
	return daysSinceMonday(now.In(w.loc)) + 1
}

// DayKey 参考时区内的日历日
func (w *WeekClock) DayKey(t time.Time) string {
	return t.In(w.loc).Format(util.DateFormat)
}
