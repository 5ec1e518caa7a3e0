package series

import (
	"testing"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/testutil"
)

func formatDates(ds []time.Time) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Format(models.DateLayout)
	}
	return out
}

func TestOccurrenceDates(t *testing.T) {
	end := testutil.Date(t, "2024-01-20")
	tests := []struct {
		name     string
		start    string
		interval int
		end      *time.Time
		from, to string
		want     []string
	}{
		{"weekly three mondays", "2024-01-01", 1, nil, "2024-01-01", "2024-01-21", []string{"2024-01-01", "2024-01-08", "2024-01-15"}},
		{"biweekly", "2024-01-01", 2, nil, "2024-01-01", "2024-02-29", []string{"2024-01-01", "2024-01-15", "2024-01-29", "2024-02-12", "2024-02-26"}},
		{"range starts mid period", "2024-01-01", 2, nil, "2024-01-10", "2024-02-05", []string{"2024-01-15", "2024-01-29"}},
		{"range before series", "2024-01-01", 1, nil, "2023-12-01", "2023-12-31", nil},
		{"series end caps range", "2024-01-01", 1, &end, "2024-01-01", "2024-02-01", []string{"2024-01-01", "2024-01-08", "2024-01-15"}},
		{"four weekly over leap day", "2024-02-05", 4, nil, "2024-02-01", "2024-04-30", []string{"2024-02-05", "2024-03-04", "2024-04-01", "2024-04-29"}},
		{"single day hit", "2024-01-03", 1, nil, "2024-01-10", "2024-01-10", []string{"2024-01-10"}},
		{"single day miss", "2024-01-03", 1, nil, "2024-01-11", "2024-01-11", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := models.RouteSeries{StartDate: testutil.Date(t, tt.start), RecurrenceInterval: tt.interval, EndDate: tt.end}
			got := formatDates(OccurrenceDates(rs, testutil.Date(t, tt.from), testutil.Date(t, tt.to)))
			if len(got) != len(tt.want) {
				t.Fatalf("OccurrenceDates = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("OccurrenceDates = %v, want %v", got, tt.want)
					break
				}
			}
			for _, d := range OccurrenceDates(rs, testutil.Date(t, tt.from), testutil.Date(t, tt.to)) {
				if !IsOccurrence(rs, d) {
					t.Errorf("IsOccurrence(%s) = false", d.Format(models.DateLayout))
				}
				if d.Weekday() != rs.StartDate.Weekday() {
					t.Errorf("%s is a %s, want %s", d.Format(models.DateLayout), d.Weekday(), rs.StartDate.Weekday())
				}
			}
		})
	}
}

func TestIsOccurrence_OnlyEveryIntervalWeeks(t *testing.T) {
	rs := models.RouteSeries{StartDate: testutil.Date(t, "2024-01-01"), RecurrenceInterval: 2}
	for week := 0; week < 10; week++ {
		d := rs.StartDate.AddDate(0, 0, 7*week)
		if got, want := IsOccurrence(rs, d), week%2 == 0; got != want {
			t.Errorf("week %d: IsOccurrence = %v, want %v", week, got, want)
		}
		if IsOccurrence(rs, d.AddDate(0, 0, 1)) {
			t.Errorf("week %d: Tuesday reported as occurrence", week)
		}
	}
	if IsOccurrence(rs, rs.StartDate.AddDate(0, 0, -14)) {
		t.Error("date before start reported as occurrence")
	}
}
