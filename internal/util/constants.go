package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	DefaultReferenceTimezone = "Europe/London"

	DiaryLabelMaxLen    = 100
	DiaryActivityMaxLen = 1000
)

const (
	HistoryStatusSubmitted = "submitted"
	HistoryStatusActive    = "active"
)
