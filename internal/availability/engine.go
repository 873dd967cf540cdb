// Package availability turns a node's overlapping-reservation snapshot into
// an occupancy grid at hour or day resolution. It performs no mutation and
// holds no state; the service facade owns locking and caching.
package availability

import (
	"time"

	"github.com/ulvgard/procplan/internal/models"
	"github.com/ulvgard/procplan/internal/store"
)

// HourAligned reports whether t falls exactly on an hour boundary.
func HourAligned(t time.Time) bool {
	return t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// ValidateWindow enforces the invariants shared by every availability query
// and reservation request: hour alignment and a non-empty window.
func ValidateWindow(start, end time.Time) error {
	if !HourAligned(start) || !HourAligned(end) {
		return &store.ValidationError{Reason: "timestamps must align exactly on the hour"}
	}
	if !end.After(start) {
		return &store.ValidationError{Reason: "window end must be after start"}
	}
	return nil
}

// Compute builds the occupancy grid for one node and window from a
// reservation snapshot. The snapshot must already be filtered to
// reservations intersecting [start, end); order must be stable so repeated
// calls under unchanged state produce identical grids.
func Compute(node models.Node, start, end time.Time, resolution models.Resolution, reservations []models.Reservation) (*models.Availability, error) {
	if err := ValidateWindow(start, end); err != nil {
		return nil, err
	}

	start = start.UTC()
	end = end.UTC()

	out := &models.Availability{
		Node:       node,
		Start:      start,
		End:        end,
		Resolution: resolution,
	}

	switch resolution {
	case models.ResolutionHour:
		computeHourGrid(out, node, start, end, reservations)
	case models.ResolutionDay:
		computeDayGrid(out, node, start, end, reservations)
	default:
		return nil, &store.ValidationError{Reason: "resolution must be one of hour, day"}
	}
	return out, nil
}

func computeHourGrid(out *models.Availability, node models.Node, start, end time.Time, reservations []models.Reservation) {
	summaries := make([]models.ReservationSummary, len(reservations))
	for i, r := range reservations {
		summaries[i] = r.Summary()
	}

	grid := &models.HourGrid{
		Rows: make([]models.HourRow, len(node.GPUs)),
	}
	for i, gpu := range node.GPUs {
		grid.Rows[i] = models.HourRow{GPU: gpu, HourSlots: []models.HourSlot{}}
	}

	for hourStart := start; hourStart.Before(end); hourStart = hourStart.Add(time.Hour) {
		hourEnd := hourStart.Add(time.Hour)

		hourBookings := []models.ReservationSummary{}
		// Per GPU, the booking shown for the hour. A later snapshot entry at
		// the same GPU wins; the day grid resolves ties the other way round,
		// and that asymmetry is intentional.
		activeByGPU := make(map[string]*models.ReservationSummary)
		for i, r := range reservations {
			if !overlaps(r.Start, r.End, hourStart, hourEnd) {
				continue
			}
			hourBookings = append(hourBookings, summaries[i])
			if r.Status == models.StatusActive {
				for _, gpuID := range r.GPUIDs {
					activeByGPU[gpuID] = &summaries[i]
				}
			}
		}

		usedIDs := []string{}
		availableIDs := []string{}
		for _, gpu := range node.GPUs {
			if activeByGPU[gpu.ID] != nil {
				usedIDs = append(usedIDs, gpu.ID)
			} else {
				availableIDs = append(availableIDs, gpu.ID)
			}
		}

		out.Hours = append(out.Hours, models.HourSummary{
			Start:           hourStart,
			End:             hourEnd,
			AvailableGPUIDs: availableIDs,
			UsedGPUIDs:      usedIDs,
			AvailableCount:  len(availableIDs),
			UsedCount:       len(usedIDs),
			Bookings:        hourBookings,
		})
		grid.Hours = append(grid.Hours, models.HourWindow{Start: hourStart, End: hourEnd})

		for i, gpu := range node.GPUs {
			slot := models.HourSlot{Start: hourStart, End: hourEnd, Status: models.SlotFree}
			if booking := activeByGPU[gpu.ID]; booking != nil {
				slot.Status = models.SlotBooked
				slot.Booking = booking
			}
			grid.Rows[i].HourSlots = append(grid.Rows[i].HourSlots, slot)
		}
	}

	out.Grid = grid
}

func computeDayGrid(out *models.Availability, node models.Node, start, end time.Time, reservations []models.Reservation) {
	summaries := make([]models.ReservationSummary, len(reservations))
	for i, r := range reservations {
		summaries[i] = r.Summary()
	}

	days := dayBuckets(start, end)
	out.Days = days

	for _, gpu := range node.GPUs {
		row := models.DayRow{GPU: gpu, DaySlots: make([]models.DaySlot, 0, len(days))}

		for _, day := range days {
			slot := models.DaySlot{
				Start:      day.Start,
				End:        day.End,
				TotalHours: day.Hours,
			}

			bestRank := -1
			for i, r := range reservations {
				if r.Status != models.StatusActive || !allocates(r, gpu.ID) {
					continue
				}
				ovStart, ovEnd, ok := intersect(r.Start, r.End, day.Start, day.End)
				if !ok {
					continue
				}
				hours := int(ovEnd.Sub(ovStart) / time.Hour)
				if hours <= 0 {
					continue
				}
				slot.BookedHours += hours
				slot.Contributions = append(slot.Contributions, models.Contribution{
					Booking: summaries[i],
					Hours:   hours,
					Start:   ovStart,
					End:     ovEnd,
				})
				// Strict comparison: the first contribution at a given rank
				// keeps the slot (unlike the hour grid, where the last wins).
				if rank := r.Priority.Rank(); rank > bestRank {
					bestRank = rank
					slot.Booking = &summaries[i]
				}
			}

			if slot.BookedHours > slot.TotalHours {
				slot.BookedHours = slot.TotalHours
			}
			switch {
			case slot.BookedHours == 0:
				slot.Status = models.SlotFree
			case slot.BookedHours == slot.TotalHours:
				slot.Status = models.SlotOccupied
			default:
				slot.Status = models.SlotPartial
			}

			row.DaySlots = append(row.DaySlots, slot)
		}

		out.Rows = append(out.Rows, row)
	}
}

// dayBuckets partitions [start, end) into UTC calendar days. The first and
// last bucket may be partial when the window does not align to midnight.
func dayBuckets(start, end time.Time) []models.DayWindow {
	var days []models.DayWindow
	for cur := start; cur.Before(end); {
		next := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		if next.After(end) {
			next = end
		}
		days = append(days, models.DayWindow{
			Start: cur,
			End:   next,
			Hours: int(next.Sub(cur) / time.Hour),
		})
		cur = next
	}
	return days
}

func overlaps(s1, e1, s2, e2 time.Time) bool {
	// Half-open intervals: [s1,e1) and [s2,e2) overlap iff neither starts
	// at or after the other ends.
	return s1.Before(e2) && s2.Before(e1)
}

func intersect(s1, e1, s2, e2 time.Time) (time.Time, time.Time, bool) {
	if !overlaps(s1, e1, s2, e2) {
		return time.Time{}, time.Time{}, false
	}
	s := s1
	if s2.After(s) {
		s = s2
	}
	e := e1
	if e2.Before(e) {
		e = e2
	}
	return s, e, true
}

func allocates(r models.Reservation, gpuID string) bool {
	for _, id := range r.GPUIDs {
		if id == gpuID {
			return true
		}
	}
	return false
}
