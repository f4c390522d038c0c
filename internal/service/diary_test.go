package service

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"therapy_backend/internal/model"
)

func TestSanitizeDiaryEntries(t *testing.T) {
	at := time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)
	inputs := []DiaryEntryInput{
		{At: "not a date", Activity: "dropped"},
		{At: nil, Activity: "dropped too"},
		{At: at.Format(time.RFC3339), Label: "  Morning  ", Activity: "  walk  ", Mood: 150.4, Achievement: -3.0, Closeness: "7.5", Enjoyment: "lots"},
		{At: float64(at.Add(time.Hour).UnixMilli()), Label: strings.Repeat("x", 120), Activity: strings.Repeat("y", 1200), Mood: json.Number("42.5")},
	}

	got := SanitizeDiaryEntries(inputs)
	if len(got) != 2 {
		t.Fatalf("entries: want=2 got=%d", len(got))
	}

	first := got[0]
	if !first.At.Equal(at) || first.Label != "Morning" || first.Activity != "walk" {
		t.Fatalf("first entry text fields: %+v", first)
	}
	if first.Mood == nil || *first.Mood != 100 {
		t.Fatalf("mood clamp: want=100 got=%v", first.Mood)
	}
	if first.Achievement == nil || *first.Achievement != 0 {
		t.Fatalf("achievement clamp: want=0 got=%v", first.Achievement)
	}
	if first.Closeness == nil || *first.Closeness != 8 {
		t.Fatalf("closeness round: want=8 got=%v", first.Closeness)
	}
	if first.Enjoyment != nil {
		t.Fatalf("enjoyment should be omitted, got=%d", *first.Enjoyment)
	}

	second := got[1]
	if !second.At.Equal(at.Add(time.Hour)) {
		t.Fatalf("epoch millis: want=%v got=%v", at.Add(time.Hour), second.At)
	}
	if len(second.Label) != 100 || len(second.Activity) != 1000 {
		t.Fatalf("caps: label=%d activity=%d", len(second.Label), len(second.Activity))
	}
	if second.Mood == nil || *second.Mood != 43 {
		t.Fatalf("mood round: want=43 got=%v", second.Mood)
	}
}

func diaryEntry(at time.Time, label, activity string) model.DiaryEntry {
	return model.DiaryEntry{At: at, Label: label, Activity: activity}
}

func TestMergeDiaryEntriesOverwritesByKey(t *testing.T) {
	mon := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	existing := []model.DiaryEntry{
		diaryEntry(mon.Add(2*time.Hour), "b", "old b"),
		diaryEntry(mon, "a", "old a"),
		diaryEntry(mon.Add(24*time.Hour), "c", "keep c"),
	}
	incoming := []model.DiaryEntry{
		diaryEntry(mon, "a", "new a"),
		diaryEntry(mon.Add(2*time.Hour), "b", "new b"),
	}

	merged := MergeDiaryEntries(existing, incoming, true)
	if len(merged) != len(existing) {
		t.Fatalf("count: want=%d got=%d", len(existing), len(merged))
	}
	want := []string{"new a", "new b", "keep c"}
	for i, w := range want {
		if merged[i].Activity != w {
			t.Fatalf("entry %d: want=%q got=%q", i, w, merged[i].Activity)
		}
	}

	// 同一时间不同 label 视为不同条目
	merged = MergeDiaryEntries(existing, []model.DiaryEntry{diaryEntry(mon, "other", "x")}, true)
	if len(merged) != 4 {
		t.Fatalf("distinct label: want=4 got=%d", len(merged))
	}
}

func TestMergeDiaryEntriesReplace(t *testing.T) {
	mon := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	existing := []model.DiaryEntry{diaryEntry(mon, "a", "old")}
	incoming := []model.DiaryEntry{
		diaryEntry(mon.Add(time.Hour), "z", "later"),
		diaryEntry(mon.Add(-time.Hour), "y", "earlier"),
	}
	got := MergeDiaryEntries(existing, incoming, false)
	if len(got) != 2 || got[0].Activity != "earlier" || got[1].Activity != "later" {
		t.Fatalf("replace: got=%+v", got)
	}
}
