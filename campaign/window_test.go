package campaign

import (
	"testing"
	"time"
)

// 2026-03-04 is a Wednesday; 2026-03-06 a Friday; 2026-03-07 a Saturday.
func wednesday(hour, minute int) time.Time {
	return time.Date(2026, time.March, 4, hour, minute, 0, 0, time.UTC)
}

func salonWindow() *SendWindow {
	w := NewSendWindow(time.UTC, 9, 13, 17)
	w.SetSegmentHours("salon", 10, 14, 16)
	return w
}

func TestWindowNext(t *testing.T) {
	t.Parallel()

	w := salonWindow()

	tests := []struct {
		name         string
		now          time.Time
		segment      string
		businessDays bool
		want         time.Time
	}{
		{
			name:    "later hour same day",
			now:     wednesday(15, 30),
			segment: "salon",
			want:    wednesday(16, 0),
		},
		{
			name:    "before first hour",
			now:     wednesday(7, 45),
			segment: "salon",
			want:    wednesday(10, 0),
		},
		{
			name:    "past last hour rolls to next day",
			now:     wednesday(16, 30),
			segment: "salon",
			want:    time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC),
		},
		{
			name:    "exactly on hour is not strictly after",
			now:     wednesday(14, 0),
			segment: "salon",
			want:    wednesday(16, 0),
		},
		{
			name:    "unknown segment uses defaults",
			now:     wednesday(10, 0),
			segment: "restaurant",
			want:    wednesday(13, 0),
		},
		{
			name:         "friday evening rolls to monday with business days",
			now:          time.Date(2026, time.March, 6, 16, 30, 0, 0, time.UTC),
			segment:      "salon",
			businessDays: true,
			want:         time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC),
		},
		{
			name:    "friday evening rolls to saturday without business days",
			now:     time.Date(2026, time.March, 6, 16, 30, 0, 0, time.UTC),
			segment: "salon",
			want:    time.Date(2026, time.March, 7, 10, 0, 0, 0, time.UTC),
		},
		{
			name:         "saturday skips to monday with business days",
			now:          time.Date(2026, time.March, 7, 8, 0, 0, 0, time.UTC),
			segment:      "salon",
			businessDays: true,
			want:         time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := w.Next(tt.now, tt.segment, tt.businessDays)
			if !got.Equal(tt.want) {
				t.Fatalf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestWindowNoHoursPassesThrough(t *testing.T) {
	t.Parallel()

	w := NewSendWindow(time.UTC)
	now := wednesday(15, 30)
	if got := w.Next(now, "salon", false); !got.Equal(now) {
		t.Fatalf("Next with no hours = %v, want unchanged %v", got, now)
	}
}

func TestWindowIgnoresInvalidHours(t *testing.T) {
	t.Parallel()

	w := NewSendWindow(time.UTC, -3, 11, 24, 99)
	got := w.Next(wednesday(9, 0), "any", false)
	if !got.Equal(wednesday(11, 0)) {
		t.Fatalf("Next = %v, want %v", got, wednesday(11, 0))
	}
}
