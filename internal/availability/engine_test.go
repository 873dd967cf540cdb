package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/ulvgard/procplan/internal/models"
	"github.com/ulvgard/procplan/internal/store"
)

var testNode = models.Node{
	ID:       "n1",
	Name:     "Node One",
	GPUCount: 2,
	GPUs: []models.GPU{
		{ID: "g1", Kind: "A100"},
		{ID: "g2", Kind: "A100"},
	},
}

func at(h int) time.Time {
	return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(h) * time.Hour)
}

func reservation(id int64, gpuIDs []string, start, end time.Time, priority models.Priority, status models.Status) models.Reservation {
	return models.Reservation{
		ID:        id,
		NodeID:    "n1",
		GPUIDs:    gpuIDs,
		Start:     start,
		End:       end,
		UserLabel: "user",
		Priority:  priority,
		Status:    status,
	}
}

func TestHourGrid(t *testing.T) {
	reservations := []models.Reservation{
		reservation(1, []string{"g1"}, at(10), at(12), models.PriorityHigh, models.StatusActive),
		reservation(2, []string{"g2"}, at(11), at(13), models.PriorityLow, models.StatusCancelled),
	}

	grid, err := Compute(testNode, at(10), at(13), models.ResolutionHour, reservations)
	if err != nil {
		t.Fatal(err)
	}

	if len(grid.Hours) != 3 {
		t.Fatalf("expected 3 hour buckets, got %d", len(grid.Hours))
	}

	t.Run("per-hour summary", func(t *testing.T) {
		h0 := grid.Hours[0] // 10:00
		if h0.UsedCount != 1 || h0.AvailableCount != 1 {
			t.Errorf("10:00 expected 1 used / 1 free, got %d / %d", h0.UsedCount, h0.AvailableCount)
		}
		if len(h0.UsedGPUIDs) != 1 || h0.UsedGPUIDs[0] != "g1" {
			t.Errorf("10:00 expected g1 used, got %v", h0.UsedGPUIDs)
		}

		// The cancelled reservation appears in the touching list but books
		// nothing.
		h1 := grid.Hours[1] // 11:00
		if len(h1.Bookings) != 2 {
			t.Errorf("11:00 expected 2 touching reservations, got %d", len(h1.Bookings))
		}
		if h1.UsedCount != 1 {
			t.Errorf("11:00 expected only the active reservation to book, got %d used", h1.UsedCount)
		}

		h2 := grid.Hours[2] // 12:00
		if h2.UsedCount != 0 || h2.AvailableCount != 2 {
			t.Errorf("12:00 expected all free, got %d used", h2.UsedCount)
		}
	})

	t.Run("per-gpu slots", func(t *testing.T) {
		if grid.Grid == nil || len(grid.Grid.Rows) != 2 {
			t.Fatalf("expected 2 grid rows")
		}
		g1 := grid.Grid.Rows[0]
		if g1.GPU.ID != "g1" {
			t.Fatalf("expected g1 row first, got %s", g1.GPU.ID)
		}
		wantStatuses := []models.SlotStatus{models.SlotBooked, models.SlotBooked, models.SlotFree}
		for i, want := range wantStatuses {
			if g1.HourSlots[i].Status != want {
				t.Errorf("g1 slot %d: expected %s, got %s", i, want, g1.HourSlots[i].Status)
			}
		}
		if g1.HourSlots[0].Booking == nil || g1.HourSlots[0].Booking.ID != 1 {
			t.Errorf("g1 slot 0 should reference reservation 1")
		}

		g2 := grid.Grid.Rows[1]
		for i, slot := range g2.HourSlots {
			if slot.Status != models.SlotFree {
				t.Errorf("g2 slot %d: cancelled reservation must not book, got %s", i, slot.Status)
			}
		}
	})
}

func TestDayGridScenario(t *testing.T) {
	// g1 booked 10:00-12:00 on 2024-05-01 at high priority; g2 untouched.
	reservations := []models.Reservation{
		reservation(1, []string{"g1"}, at(10), at(12), models.PriorityHigh, models.StatusActive),
	}

	grid, err := Compute(testNode, at(0), at(24), models.ResolutionDay, reservations)
	if err != nil {
		t.Fatal(err)
	}

	if len(grid.Days) != 1 || grid.Days[0].Hours != 24 {
		t.Fatalf("expected one 24h day bucket, got %+v", grid.Days)
	}
	if len(grid.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(grid.Rows))
	}

	g1 := grid.Rows[0].DaySlots[0]
	if g1.BookedHours != 2 || g1.Status != models.SlotPartial {
		t.Errorf("g1: expected 2 booked hours / partial, got %d / %s", g1.BookedHours, g1.Status)
	}
	if g1.Booking == nil || g1.Booking.Priority != models.PriorityHigh {
		t.Errorf("g1: expected attached high-priority booking, got %+v", g1.Booking)
	}
	if len(g1.Contributions) != 1 || g1.Contributions[0].Hours != 2 {
		t.Errorf("g1: expected one 2h contribution, got %+v", g1.Contributions)
	}
	if !g1.Contributions[0].Start.Equal(at(10)) || !g1.Contributions[0].End.Equal(at(12)) {
		t.Errorf("g1: unexpected overlap window %+v", g1.Contributions[0])
	}

	g2 := grid.Rows[1].DaySlots[0]
	if g2.BookedHours != 0 || g2.Status != models.SlotFree || g2.Booking != nil {
		t.Errorf("g2: expected free with no booking, got %+v", g2)
	}
}

func TestDayGridBuckets(t *testing.T) {
	// A window crossing two midnights with unaligned edges: 2024-05-01 20:00
	// to 2024-05-03 04:00 gives buckets of 4, 24 and 4 hours.
	start := at(20)
	end := at(52)
	reservations := []models.Reservation{
		reservation(1, []string{"g1"}, at(20), at(52), models.PriorityMedium, models.StatusActive),
	}

	grid, err := Compute(testNode, start, end, models.ResolutionDay, reservations)
	if err != nil {
		t.Fatal(err)
	}

	wantHours := []int{4, 24, 4}
	if len(grid.Days) != len(wantHours) {
		t.Fatalf("expected %d day buckets, got %d", len(wantHours), len(grid.Days))
	}
	for i, want := range wantHours {
		if grid.Days[i].Hours != want {
			t.Errorf("bucket %d: expected %d hours, got %d", i, want, grid.Days[i].Hours)
		}
	}

	for i, slot := range grid.Rows[0].DaySlots {
		if slot.BookedHours < 0 || slot.BookedHours > slot.TotalHours {
			t.Errorf("bucket %d: booked hours %d out of [0, %d]", i, slot.BookedHours, slot.TotalHours)
		}
		if slot.Status != models.SlotOccupied {
			t.Errorf("bucket %d: fully covered bucket should be occupied, got %s", i, slot.Status)
		}
		if slot.BookedHours != slot.TotalHours {
			t.Errorf("bucket %d: expected %d booked hours, got %d", i, slot.TotalHours, slot.BookedHours)
		}
	}
}

// The two resolutions deliberately break priority ties differently: hour
// slots keep the last snapshot entry, day slots keep the first.
func TestTieBreakAsymmetry(t *testing.T) {
	// Two medium reservations on the same GPU cannot overlap, so exercise the
	// tie-break through back-to-back windows inside one day bucket.
	first := reservation(1, []string{"g1"}, at(8), at(10), models.PriorityMedium, models.StatusActive)
	second := reservation(2, []string{"g1"}, at(10), at(12), models.PriorityMedium, models.StatusActive)
	reservations := []models.Reservation{first, second}

	day, err := Compute(testNode, at(0), at(24), models.ResolutionDay, reservations)
	if err != nil {
		t.Fatal(err)
	}
	slot := day.Rows[0].DaySlots[0]
	if slot.Booking == nil || slot.Booking.ID != 1 {
		t.Fatalf("day grid should keep the first equal-rank reservation, got %+v", slot.Booking)
	}
	if len(slot.Contributions) != 2 || slot.BookedHours != 4 {
		t.Errorf("expected both reservations to contribute 4h total, got %+v", slot)
	}

	// A higher priority later in the snapshot still wins.
	boosted := second
	boosted.Priority = models.PriorityHigh
	day, err = Compute(testNode, at(0), at(24), models.ResolutionDay, []models.Reservation{first, boosted})
	if err != nil {
		t.Fatal(err)
	}
	if b := day.Rows[0].DaySlots[0].Booking; b == nil || b.ID != 2 {
		t.Errorf("day grid should prefer the higher rank, got %+v", b)
	}
}

func TestComputeValidation(t *testing.T) {
	cases := []struct {
		name       string
		start, end time.Time
		resolution models.Resolution
	}{
		{"empty window", at(10), at(10), models.ResolutionHour},
		{"inverted window", at(12), at(10), models.ResolutionHour},
		{"misaligned start", at(10).Add(30 * time.Minute), at(12), models.ResolutionHour},
		{"misaligned end", at(10), at(12).Add(time.Second), models.ResolutionDay},
		{"unknown resolution", at(10), at(12), models.Resolution("week")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(testNode, tc.start, tc.end, tc.resolution, nil)
			var validation *store.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestHourRange(t *testing.T) {
	grid, err := Compute(testNode, at(0), at(5), models.ResolutionHour, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(grid.Hours) != 5 {
		t.Fatalf("expected 5 hour buckets, got %d", len(grid.Hours))
	}
	for i, h := range grid.Hours {
		if !h.Start.Equal(at(i)) || !h.End.Equal(at(i+1)) {
			t.Errorf("bucket %d: got [%v, %v)", i, h.Start, h.End)
		}
	}
}
