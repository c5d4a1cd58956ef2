package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RandyVollrath/curbwatch/internal/models"
)

func date(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func datePtr(t time.Time) *time.Time { return &t }

func reminderLoc() *models.ParkingLocation {
	return &models.ParkingLocation{ID: 42, VehicleID: 7}
}

func findRestriction(restrictions []*models.ParkingRestriction, kind models.RestrictionKind) *models.ParkingRestriction {
	for _, r := range restrictions {
		if r.Kind == kind {
			return r
		}
	}
	return nil
}

func TestStreetCleaningReminder(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name     string
		now      time.Time
		nextDate *time.Time
		want     *time.Time
	}{
		{
			name:     "future date",
			now:      date(2026, 3, 10, 15, 0),
			nextDate: datePtr(date(2026, 3, 12, 0, 0)),
			want:     datePtr(date(2026, 3, 12, 9, 0)),
		},
		{
			name:     "same day before start",
			now:      date(2026, 3, 12, 8, 0),
			nextDate: datePtr(date(2026, 3, 12, 0, 0)),
			want:     datePtr(date(2026, 3, 12, 9, 0)),
		},
		{
			name:     "same day already started",
			now:      date(2026, 3, 12, 9, 30),
			nextDate: datePtr(date(2026, 3, 12, 0, 0)),
			want:     nil,
		},
		{
			name:     "no scheduled date",
			now:      date(2026, 3, 10, 15, 0),
			nextDate: nil,
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &models.RuleSet{StreetCleaning: &models.StreetCleaningRule{NextDate: tt.nextDate}}
			got := ComputeRestrictions(cfg, reminderLoc(), rs, tt.now)

			r := findRestriction(got, models.RestrictionStreetCleaning)
			if tt.want == nil {
				assert.Nil(t, r)
				return
			}
			require.NotNil(t, r)
			assert.True(t, r.StartsAt.Equal(*tt.want), "got %v, want %v", r.StartsAt, *tt.want)
		})
	}
}

func TestWinterBanReminder(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name string
		now  time.Time
		rule models.WinterBanRule
		want *time.Time
	}{
		{
			name: "before window",
			now:  date(2026, 1, 15, 2, 0),
			rule: models.WinterBanRule{Active: true},
			want: datePtr(date(2026, 1, 15, 3, 0)),
		},
		{
			name: "inside window",
			now:  date(2026, 1, 15, 4, 0),
			rule: models.WinterBanRule{Active: true},
			want: nil,
		},
		{
			name: "after window",
			now:  date(2026, 1, 15, 8, 0),
			rule: models.WinterBanRule{Active: true},
			want: datePtr(date(2026, 1, 16, 3, 0)),
		},
		{
			name: "exactly at window end",
			now:  date(2026, 1, 15, 7, 0),
			rule: models.WinterBanRule{Active: true},
			want: datePtr(date(2026, 1, 16, 3, 0)),
		},
		{
			name: "historical segment still reminded",
			now:  date(2026, 1, 15, 12, 0),
			rule: models.WinterBanRule{Historical: true},
			want: datePtr(date(2026, 1, 16, 3, 0)),
		},
		{
			name: "segment not covered",
			now:  date(2026, 1, 15, 12, 0),
			rule: models.WinterBanRule{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &models.RuleSet{WinterBan: &tt.rule}
			got := ComputeRestrictions(cfg, reminderLoc(), rs, tt.now)

			r := findRestriction(got, models.RestrictionWinterBan)
			if tt.want == nil {
				assert.Nil(t, r)
				return
			}
			require.NotNil(t, r)
			assert.True(t, r.StartsAt.Equal(*tt.want), "got %v, want %v", r.StartsAt, *tt.want)
		})
	}
}

func TestPermitZoneReminder(t *testing.T) {
	cfg := testConfig()

	// 2026-01-09 是周五
	tests := []struct {
		name string
		now  time.Time
		rule models.PermitZoneRule
		want *time.Time
	}{
		{
			name: "weekday before enforcement hour",
			now:  date(2026, 1, 9, 5, 0),
			rule: models.PermitZoneRule{Zone: "383", Enforced: true},
			want: datePtr(date(2026, 1, 9, 6, 0)),
		},
		{
			name: "friday after enforcement skips to monday",
			now:  date(2026, 1, 9, 10, 0),
			rule: models.PermitZoneRule{Zone: "383", Enforced: true},
			want: datePtr(date(2026, 1, 12, 6, 0)),
		},
		{
			name: "saturday skips to monday",
			now:  date(2026, 1, 10, 14, 0),
			rule: models.PermitZoneRule{Zone: "383", Enforced: true},
			want: datePtr(date(2026, 1, 12, 6, 0)),
		},
		{
			name: "unenforced zone",
			now:  date(2026, 1, 9, 5, 0),
			rule: models.PermitZoneRule{Zone: "383", Enforced: false},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &models.RuleSet{PermitZone: &tt.rule}
			got := ComputeRestrictions(cfg, reminderLoc(), rs, tt.now)

			r := findRestriction(got, models.RestrictionPermitZone)
			if tt.want == nil {
				assert.Nil(t, r)
				return
			}
			require.NotNil(t, r)
			assert.True(t, r.StartsAt.Equal(*tt.want), "got %v, want %v", r.StartsAt, *tt.want)
		})
	}
}

func TestComputeRestrictionsCombined(t *testing.T) {
	cfg := testConfig()
	now := date(2026, 1, 15, 12, 0) // 周四中午

	rs := &models.RuleSet{
		StreetCleaning: &models.StreetCleaningRule{NextDate: datePtr(date(2026, 1, 16, 0, 0))},
		WinterBan:      &models.WinterBanRule{Active: true},
		PermitZone:     &models.PermitZoneRule{Zone: "12", Enforced: true},
	}

	got := ComputeRestrictions(cfg, reminderLoc(), rs, now)
	require.Len(t, got, 3)

	for _, r := range got {
		assert.Equal(t, int64(7), r.VehicleID)
		assert.Equal(t, int64(42), r.ParkingLocationID)
		assert.True(t, r.StartsAt.After(now), "%s must be in the future", r.Kind)
	}
}

func TestComputeRestrictionsEmptyRules(t *testing.T) {
	got := ComputeRestrictions(testConfig(), reminderLoc(), &models.RuleSet{}, date(2026, 1, 15, 12, 0))
	assert.Empty(t, got)
}
