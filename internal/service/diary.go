package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"therapy_backend/internal/model"
	"therapy_backend/internal/util"
)

// DiaryEntryInput 客户端提交的原始日记条目，字段类型不可信
type DiaryEntryInput struct {
	At          interface{} `json:"at"`
	Label       interface{} `json:"label,omitempty"`
	Activity    interface{} `json:"activity,omitempty"`
	Mood        interface{} `json:"mood,omitempty"`
	Achievement interface{} `json:"achievement,omitempty"`
	Closeness   interface{} `json:"closeness,omitempty"`
	Enjoyment   interface{} `json:"enjoyment,omitempty"`
}

var diaryTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	util.TimeFormat,
}

// parseDiaryTime 支持 ISO 字符串与毫秒时间戳
func parseDiaryTime(v interface{}) (time.Time, bool) {
	switch at := v.(type) {
	case string:
		s := strings.TrimSpace(at)
		for _, layout := range diaryTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	case time.Time:
		return at.UTC(), !at.IsZero()
	default:
		ms, ok := toNumber(v)
		if !ok || ms < 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).UTC(), true
	}
}

func toNumber(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// clampScore 四舍五入并限制在 [lo, hi]；非数字返回 nil
func clampScore(v interface{}, lo, hi int) *int {
	f, ok := toNumber(v)
	if !ok {
		return nil
	}
	n := int(math.Floor(f + 0.5))
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return &n
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func cleanText(v interface{}, max int) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return truncateRunes(strings.TrimSpace(s), max)
}

// SanitizeDiaryEntries 逐条清洗，时间无效的条目被丢弃
func SanitizeDiaryEntries(inputs []DiaryEntryInput) []model.DiaryEntry {
	entries := make([]model.DiaryEntry, 0, len(inputs))
	for _, in := range inputs {
		at, ok := parseDiaryTime(in.At)
		if !ok {
			continue
		}
		entries = append(entries, model.DiaryEntry{
			At:          at,
			Label:       cleanText(in.Label, util.DiaryLabelMaxLen),
			Activity:    cleanText(in.Activity, util.DiaryActivityMaxLen),
			Mood:        clampScore(in.Mood, 0, 100),
			Achievement: clampScore(in.Achievement, 0, 10),
			Closeness:   clampScore(in.Closeness, 0, 10),
			Enjoyment:   clampScore(in.Enjoyment, 0, 10),
		})
	}
	return entries
}

func diaryKey(e model.DiaryEntry) string {
	return fmt.Sprintf("%d|%s", e.At.UnixMilli(), e.Label)
}

// MergeDiaryEntries merge=true 时按 (毫秒时间戳, label) 覆盖已有条目，否则整体替换；结果按时间升序
func MergeDiaryEntries(existing, incoming []model.DiaryEntry, merge bool) []model.DiaryEntry {
	var result []model.DiaryEntry
	if merge {
		index := make(map[string]int, len(existing)+len(incoming))
		result = make([]model.DiaryEntry, 0, len(existing)+len(incoming))
		for _, list := range [][]model.DiaryEntry{existing, incoming} {
			for _, e := range list {
				key := diaryKey(e)
				if i, ok := index[key]; ok {
					result[i] = e
					continue
				}
				index[key] = len(result)
				result = append(result, e)
			}
		}
	} else {
		result = make([]model.DiaryEntry, len(incoming))
		copy(result, incoming)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].At.Before(result[j].At)
	})
	return result
}
