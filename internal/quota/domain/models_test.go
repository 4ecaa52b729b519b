package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodFor(t *testing.T) {
	cases := []struct {
		name  string
		now   time.Time
		start time.Time
		end   time.Time
		key   string
	}{
		{
			name:  "mid_month",
			now:   time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC),
			start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			key:   "2026-03",
		},
		{
			name:  "first_instant",
			now:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			key:   "2026-03",
		},
		{
			name:  "last_instant",
			now:   time.Date(2026, 3, 31, 23, 59, 59, 999999999, time.UTC),
			start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			key:   "2026-03",
		},
		{
			name:  "december_rollover",
			now:   time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC),
			start: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
			key:   "2026-12",
		},
		{
			name:  "offset_input_normalized_to_utc",
			now:   time.Date(2026, 4, 1, 1, 0, 0, 0, time.FixedZone("UTC+7", 7*3600)),
			start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			key:   "2026-03",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := PeriodFor(tc.now)
			assert.True(t, tc.start.Equal(p.Start), "start %s", p.Start)
			assert.True(t, tc.end.Equal(p.End), "end %s", p.End)
			assert.Equal(t, tc.key, p.Key)
			assert.True(t, p.Contains(tc.now))
			assert.False(t, p.Contains(p.End))
		})
	}
}
