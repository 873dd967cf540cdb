package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ulvgard/procplan/internal/catalog"
	"github.com/ulvgard/procplan/internal/db"
	"github.com/ulvgard/procplan/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(os.TempDir(), fmt.Sprintf("test_store_%d.db", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(dbPath) })

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(); err != nil {
		t.Fatal(err)
	}

	s := New(database)
	if err := s.SyncCatalog(testCatalog()); err != nil {
		t.Fatal(err)
	}
	return s
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{Nodes: []catalog.Node{
		{ID: "n1", Name: "Node One", GPUs: []catalog.GPU{
			{ID: "g1", Kind: "A100"},
			{ID: "g2", Kind: "A100"},
			{ID: "g3", Kind: "H100"},
		}},
		{ID: "n2", Name: "Node Two", GPUs: []catalog.GPU{
			{ID: "g4", Kind: "L40S"},
		}},
	}}
}

func hour(t *testing.T, h int) time.Time {
	t.Helper()
	return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(h) * time.Hour)
}

func TestCreateReservation(t *testing.T) {
	s := newTestStore(t)

	t.Run("commit and read back", func(t *testing.T) {
		id, err := s.CreateReservation("n1", []string{"g1", "g2"}, hour(t, 10), hour(t, 12), "alice", models.PriorityHigh)
		if err != nil {
			t.Fatal(err)
		}
		if id <= 0 {
			t.Fatalf("expected positive reservation id, got %d", id)
		}

		reservations, err := s.ListReservationsOverlapping("n1", hour(t, 0), hour(t, 24))
		if err != nil {
			t.Fatal(err)
		}
		if len(reservations) != 1 {
			t.Fatalf("expected 1 reservation, got %d", len(reservations))
		}
		r := reservations[0]
		if r.ID != id || r.UserLabel != "alice" || r.Priority != models.PriorityHigh || r.Status != models.StatusActive {
			t.Errorf("unexpected reservation %+v", r)
		}
		if len(r.GPUIDs) != 2 || r.GPUIDs[0] != "g1" || r.GPUIDs[1] != "g2" {
			t.Errorf("expected gpu ids [g1 g2], got %v", r.GPUIDs)
		}
		if !r.Start.Equal(hour(t, 10)) || !r.End.Equal(hour(t, 12)) {
			t.Errorf("expected window [%v, %v), got [%v, %v)", hour(t, 10), hour(t, 12), r.Start, r.End)
		}
	})

	t.Run("foreign GPU rejected", func(t *testing.T) {
		_, err := s.CreateReservation("n1", []string{"g4"}, hour(t, 0), hour(t, 1), "bob", models.PriorityMedium)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("empty GPU set rejected", func(t *testing.T) {
		_, err := s.CreateReservation("n1", nil, hour(t, 0), hour(t, 1), "bob", models.PriorityMedium)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestOverlapConflicts(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateReservation("n1", []string{"g1"}, hour(t, 10), hour(t, 12), "alice", models.PriorityMedium); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name       string
		start, end int
		conflict   bool
	}{
		{"identical window", 10, 12, true},
		{"contained", 10, 11, true},
		{"straddles start", 9, 11, true},
		{"straddles end", 11, 13, true},
		{"covers", 9, 13, true},
		{"touches end", 12, 14, false},
		{"touches start", 8, 10, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := s.CreateReservation("n1", []string{"g1"}, hour(t, tc.start), hour(t, tc.end), "bob", models.PriorityMedium)
			if tc.conflict {
				var conflict *ConflictError
				if !errors.As(err, &conflict) {
					t.Fatalf("expected ConflictError, got %v", err)
				}
				if conflict.GPUID != "g1" {
					t.Errorf("expected conflict on g1, got %s", conflict.GPUID)
				}
			} else {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				// Free the window again for the next case.
				if ok, err := s.Cancel(id); err != nil || !ok {
					t.Fatalf("cleanup cancel failed: ok=%v err=%v", ok, err)
				}
			}
		})
	}

	t.Run("terminal reservations do not conflict", func(t *testing.T) {
		id, err := s.CreateReservation("n1", []string{"g2"}, hour(t, 10), hour(t, 12), "carol", models.PriorityMedium)
		if err != nil {
			t.Fatal(err)
		}
		if ok, _ := s.MarkCompleted(id); !ok {
			t.Fatal("expected completion to succeed")
		}
		if _, err := s.CreateReservation("n1", []string{"g2"}, hour(t, 10), hour(t, 12), "dave", models.PriorityMedium); err != nil {
			t.Fatalf("expected completed reservation to free the window, got %v", err)
		}
	})
}

func TestSelectFreeGPUIDs(t *testing.T) {
	s := newTestStore(t)

	t.Run("deterministic ascending order", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			free, err := s.SelectFreeGPUIDs("n1", hour(t, 0), hour(t, 4), 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(free) != 2 || free[0] != "g1" || free[1] != "g2" {
				t.Fatalf("expected [g1 g2], got %v", free)
			}
		}
	})

	t.Run("skips allocated", func(t *testing.T) {
		if _, err := s.CreateReservation("n1", []string{"g1"}, hour(t, 0), hour(t, 4), "alice", models.PriorityMedium); err != nil {
			t.Fatal(err)
		}
		free, err := s.SelectFreeGPUIDs("n1", hour(t, 0), hour(t, 4), 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(free) != 2 || free[0] != "g2" || free[1] != "g3" {
			t.Fatalf("expected [g2 g3], got %v", free)
		}
	})

	t.Run("all or nothing", func(t *testing.T) {
		free, err := s.SelectFreeGPUIDs("n1", hour(t, 0), hour(t, 4), 3)
		if err != nil {
			t.Fatal(err)
		}
		if free != nil {
			t.Fatalf("expected nil for insufficient capacity, got %v", free)
		}
	})

	t.Run("zero count", func(t *testing.T) {
		free, err := s.SelectFreeGPUIDs("n1", hour(t, 0), hour(t, 4), 0)
		if err != nil {
			t.Fatal(err)
		}
		if free != nil {
			t.Fatalf("expected nil for zero count, got %v", free)
		}
	})
}

func TestListAllocatedGPUIDs(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateReservation("n1", []string{"g1", "g3"}, hour(t, 10), hour(t, 12), "alice", models.PriorityMedium); err != nil {
		t.Fatal(err)
	}

	allocated, err := s.ListAllocatedGPUIDs("n1", hour(t, 11), hour(t, 13))
	if err != nil {
		t.Fatal(err)
	}
	if len(allocated) != 2 {
		t.Fatalf("expected 2 allocated ids, got %v", allocated)
	}

	allocated, err = s.ListAllocatedGPUIDs("n1", hour(t, 12), hour(t, 13))
	if err != nil {
		t.Fatal(err)
	}
	if len(allocated) != 0 {
		t.Fatalf("expected no allocations past the window, got %v", allocated)
	}
}

func TestTermination(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateReservation("n1", []string{"g1"}, hour(t, 10), hour(t, 12), "alice", models.PriorityMedium)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("complete is idempotent", func(t *testing.T) {
		ok, err := s.MarkCompleted(id)
		if err != nil || !ok {
			t.Fatalf("first completion: ok=%v err=%v", ok, err)
		}
		ok, err = s.MarkCompleted(id)
		if err != nil || ok {
			t.Fatalf("second completion should be a no-op: ok=%v err=%v", ok, err)
		}
	})

	t.Run("cancel after terminal is refused", func(t *testing.T) {
		ok, err := s.Cancel(id)
		if err != nil || ok {
			t.Fatalf("cancel of completed reservation: ok=%v err=%v", ok, err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		ok, err := s.MarkCompleted(99999)
		if err != nil || ok {
			t.Fatalf("unknown id: ok=%v err=%v", ok, err)
		}
	})
}

func TestSyncCatalogRemoval(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateReservation("n2", []string{"g4"}, hour(t, 10), hour(t, 12), "alice", models.PriorityMedium)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.MarkCompleted(id); !ok {
		t.Fatal("expected completion to succeed")
	}

	// Reload without n2: the node and its GPU leave the active topology but
	// the historical reservation keeps referencing g4.
	trimmed := &catalog.Catalog{Nodes: testCatalog().Nodes[:1]}
	if err := s.SyncCatalog(trimmed); err != nil {
		t.Fatal(err)
	}

	node, err := s.FetchNode("n2")
	if err != nil {
		t.Fatal(err)
	}
	if node != nil {
		t.Fatalf("expected n2 to be removed, got %+v", node)
	}

	reservations, err := s.ListReservationsOverlapping("n2", hour(t, 0), hour(t, 24))
	if err != nil {
		t.Fatal(err)
	}
	if len(reservations) != 1 || len(reservations[0].GPUIDs) != 1 || reservations[0].GPUIDs[0] != "g4" {
		t.Fatalf("expected historical reservation to retain g4, got %+v", reservations)
	}
}

func TestListNodes(t *testing.T) {
	s := newTestStore(t)

	nodes, err := s.ListNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].ID != "n1" || nodes[0].GPUCount != 3 || nodes[1].ID != "n2" || nodes[1].GPUCount != 1 {
		t.Errorf("unexpected node listing %+v", nodes)
	}
	if nodes[0].GPUs[0].ID != "g1" || nodes[0].GPUs[0].Kind != "A100" {
		t.Errorf("unexpected gpu ordering %+v", nodes[0].GPUs)
	}
}
