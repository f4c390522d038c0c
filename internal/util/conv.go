package util

import (
	"strconv"
	"strings"
	"time"
)

// MustParseUint 将字符串转换为无符号整数，解析失败时返回 0
func MustParseUint(s string) uint {
	id, _ := strconv.ParseUint(s, 10, 32)
	return uint(id)
}

// HistoryCursor 排序时间 + 行 id；同一时间戳的多行按 id 继续翻页
type HistoryCursor struct {
	At time.Time
	ID string
}

// ParseCursor 格式为 "<RFC3339Nano>_<id>"；空串表示第一页
func ParseCursor(s string) (*HistoryCursor, error) {
	if s == "" {
		return nil, nil
	}
	ts, id, ok := strings.Cut(s, "_")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &HistoryCursor{At: t.UTC(), ID: id}, nil
}

func FormatCursor(t time.Time, id string) *string {
	s := t.UTC().Format(time.RFC3339Nano) + "_" + id
	return &s
}
