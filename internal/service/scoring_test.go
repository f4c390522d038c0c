package service

import (
	"context"
	"errors"
	"testing"

	"therapy_backend/internal/model"
	"therapy_backend/internal/util"
)

type fakeBandStore struct {
	bands    map[uint][]model.ScoreBand
	replaced int
}

func (f *fakeBandStore) FindByModule(ctx context.Context, moduleID uint) ([]model.ScoreBand, error) {
	return f.bands[moduleID], nil
}

func (f *fakeBandStore) Replace(ctx context.Context, moduleID uint, bands []model.ScoreBand) error {
	f.replaced++
	if f.bands == nil {
		f.bands = make(map[uint][]model.ScoreBand)
	}
	f.bands[moduleID] = bands
	return nil
}

func phq9Bands() []model.ScoreBand {
	return []model.ScoreBand{
		{Min: 0, Max: 4, Label: "Minimal"},
		{Min: 5, Max: 9, Label: "Mild"},
		{Min: 10, Max: 14, Label: "Moderate"},
		{Min: 15, Max: 19, Label: "Moderately severe"},
		{Min: 20, Max: 27, Label: "Severe"},
	}
}

func TestResolveBandDisjoint(t *testing.T) {
	bands := phq9Bands()
	for score := 0; score <= 27; score++ {
		band, overlapped := ResolveBand(bands, score)
		if band == nil || overlapped {
			t.Fatalf("score %d: want exactly one band got=%v overlapped=%v", score, band, overlapped)
		}
		if !band.Contains(score) {
			t.Fatalf("score %d: band %q [%d,%d] does not contain it", score, band.Label, band.Min, band.Max)
		}
	}
	if band, _ := ResolveBand(bands, 28); band != nil {
		t.Fatalf("score 28: want no band got=%q", band.Label)
	}
}

func TestResolveBandGapAndOverlap(t *testing.T) {
	gap := []model.ScoreBand{{Min: 0, Max: 4, Label: "Low"}, {Min: 10, Max: 20, Label: "High"}}
	if band, _ := ResolveBand(gap, 7); band != nil {
		t.Fatalf("gap: want nil got=%q", band.Label)
	}

	overlapping := []model.ScoreBand{
		{BaseModel: model.BaseModel{ID: 2}, Min: 5, Max: 15, Label: "B"},
		{BaseModel: model.BaseModel{ID: 1}, Min: 0, Max: 10, Label: "A"},
	}
	band, overlapped := ResolveBand(overlapping, 7)
	if band == nil || band.Label != "A" || !overlapped {
		t.Fatalf("overlap: want A overlapped got=%v overlapped=%v", band, overlapped)
	}
}

func TestValidateScoreBands(t *testing.T) {
	cases := []struct {
		name  string
		bands []model.ScoreBand
		want  error
	}{
		{"disjoint", phq9Bands(), nil},
		{"empty", nil, nil},
		{"inverted", []model.ScoreBand{{Min: 5, Max: 1}}, util.ErrInvalidScoreBand},
		{"overlap", []model.ScoreBand{{Min: 0, Max: 5}, {Min: 5, Max: 9}}, util.ErrOverlappingScoreBands},
		{"unordered overlap", []model.ScoreBand{{Min: 10, Max: 20}, {Min: 0, Max: 12}}, util.ErrOverlappingScoreBands},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateScoreBands(c.bands)
			if c.want == nil && err != nil {
				t.Fatalf("want nil got=%v", err)
			}
			if c.want != nil && !errors.Is(err, c.want) {
				t.Fatalf("want=%v got=%v", c.want, err)
			}
		})
	}
}

func TestReplaceBandsRejectsOverlap(t *testing.T) {
	store := &fakeBandStore{}
	svc := NewScoringService(store)
	err := svc.ReplaceBands(context.Background(), 1, []model.ScoreBand{{Min: 0, Max: 5}, {Min: 3, Max: 9}})
	if !errors.Is(err, util.ErrOverlappingScoreBands) {
		t.Fatalf("want=%v got=%v", util.ErrOverlappingScoreBands, err)
	}
	if store.replaced != 0 {
		t.Fatalf("store should not be written")
	}
	if err := svc.ReplaceBands(context.Background(), 1, phq9Bands()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	band, err := svc.Resolve(context.Background(), 1, 12)
	if err != nil || band == nil || band.Label != "Moderate" {
		t.Fatalf("resolve: want Moderate got=%v err=%v", band, err)
	}
}
