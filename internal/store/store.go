package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ulvgard/procplan/internal/catalog"
	"github.com/ulvgard/procplan/internal/db"
	"github.com/ulvgard/procplan/internal/models"
)

const TimeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// Store owns all reservation persistence. Timestamps are stored as fixed
// RFC3339 UTC strings so the overlap predicates compare lexicographically.
type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// SyncCatalog reconciles the nodes/gpus tables with a topology snapshot:
// new entries inserted, changed ones updated, vanished ones removed.
// Allocation rows referencing a removed GPU are left in place as history.
func (s *Store) SyncCatalog(cat *catalog.Catalog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	nodeIDs := make(map[string]bool, len(cat.Nodes))
	gpuIDs := make(map[string]bool)
	for _, node := range cat.Nodes {
		nodeIDs[node.ID] = true
		for _, gpu := range node.GPUs {
			gpuIDs[gpu.ID] = true
		}
	}

	existingNodes, err := scanIDs(tx.Query("SELECT id FROM nodes"))
	if err != nil {
		return err
	}
	for _, id := range existingNodes {
		if !nodeIDs[id] {
			if _, err := tx.Exec("DELETE FROM nodes WHERE id = ?", id); err != nil {
				return fmt.Errorf("removing stale node %s: %w", id, err)
			}
		}
	}

	existingGPUs, err := scanIDs(tx.Query("SELECT id FROM gpus"))
	if err != nil {
		return err
	}
	for _, id := range existingGPUs {
		if !gpuIDs[id] {
			if _, err := tx.Exec("DELETE FROM gpus WHERE id = ?", id); err != nil {
				return fmt.Errorf("removing stale gpu %s: %w", id, err)
			}
		}
	}

	for _, node := range cat.Nodes {
		_, err := tx.Exec(`
			INSERT INTO nodes (id, name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name
		`, node.ID, node.Name)
		if err != nil {
			return fmt.Errorf("syncing node %s: %w", node.ID, err)
		}

		for _, gpu := range node.GPUs {
			_, err := tx.Exec(`
				INSERT INTO gpus (id, node_id, kind) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET node_id = excluded.node_id, kind = excluded.kind
			`, gpu.ID, node.ID, gpu.Kind)
			if err != nil {
				return fmt.Errorf("syncing gpu %s: %w", gpu.ID, err)
			}
		}
	}

	return tx.Commit()
}

// FetchNode returns the node with its GPUs ordered by id, or nil if unknown.
func (s *Store) FetchNode(nodeID string) (*models.Node, error) {
	var node models.Node
	err := s.db.QueryRow("SELECT id, name FROM nodes WHERE id = ?", nodeID).Scan(&node.ID, &node.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query("SELECT id, kind FROM gpus WHERE node_id = ? ORDER BY id", nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var gpu models.GPU
		if err := rows.Scan(&gpu.ID, &gpu.Kind); err != nil {
			return nil, err
		}
		node.GPUs = append(node.GPUs, gpu)
	}
	node.GPUCount = len(node.GPUs)
	return &node, rows.Err()
}

func (s *Store) ListNodes() ([]models.Node, error) {
	rows, err := s.db.Query("SELECT id, name FROM nodes ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := []models.Node{}
	for rows.Next() {
		var n models.Node
		if err := rows.Scan(&n.ID, &n.Name); err != nil {
			return nil, err
		}
		n.GPUs = []models.GPU{}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	gpuRows, err := s.db.Query("SELECT id, node_id, kind FROM gpus ORDER BY node_id, id")
	if err != nil {
		return nil, err
	}
	defer gpuRows.Close()

	byNode := make(map[string]int, len(nodes))
	for i := range nodes {
		byNode[nodes[i].ID] = i
	}
	for gpuRows.Next() {
		var id, nodeID, kind string
		if err := gpuRows.Scan(&id, &nodeID, &kind); err != nil {
			return nil, err
		}
		if i, ok := byNode[nodeID]; ok {
			nodes[i].GPUs = append(nodes[i].GPUs, models.GPU{ID: id, Kind: kind})
		}
	}
	for i := range nodes {
		nodes[i].GPUCount = len(nodes[i].GPUs)
	}
	return nodes, gpuRows.Err()
}

// CreateReservation commits a reservation and its allocation rows as one
// transaction. The GPU membership check and the active-overlap check run
// inside the same transaction, so two racing calls for the same GPU/window
// cannot both succeed: the second observes the first's committed rows and
// fails with ConflictError.
func (s *Store) CreateReservation(nodeID string, gpuIDs []string, start, end time.Time, label string, priority models.Priority) (int64, error) {
	if len(gpuIDs) == 0 {
		return 0, validationErrorf("at least one GPU id must be provided")
	}
	if !end.After(start) {
		return 0, validationErrorf("reservation end must be after start")
	}

	startStr := formatTime(start)
	endStr := formatTime(end)
	nowStr := formatTime(time.Now())

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	args := make([]any, 0, len(gpuIDs)+1)
	args = append(args, nodeID)
	for _, id := range gpuIDs {
		args = append(args, id)
	}
	owned, err := scanIDs(tx.Query(fmt.Sprintf(
		"SELECT id FROM gpus WHERE node_id = ? AND id IN (%s)", placeholders(len(gpuIDs)),
	), args...))
	if err != nil {
		return 0, err
	}
	if len(owned) != len(gpuIDs) {
		ownedSet := make(map[string]bool, len(owned))
		for _, id := range owned {
			ownedSet[id] = true
		}
		for _, id := range gpuIDs {
			if !ownedSet[id] {
				return 0, validationErrorf("GPU %q does not belong to node %q", id, nodeID)
			}
		}
		return 0, validationErrorf("one or more GPUs do not belong to node %q", nodeID)
	}

	overlapArgs := append(args, startStr, endStr)
	// Scoped to one node like every other allocation query. A catalog
	// reload that reassigns a GPU to another node leaves the old node's
	// still-active reservations invisible to this check until they end.
	conflicting, err := scanIDs(tx.Query(fmt.Sprintf(`
		SELECT ra.gpu_id
		FROM reservation_allocations ra
		JOIN reservations r ON r.id = ra.reservation_id
		WHERE r.node_id = ?
		  AND ra.gpu_id IN (%s)
		  AND r.status = 'active'
		  AND NOT (? >= r.end_utc OR ? <= r.start_utc)
		ORDER BY ra.gpu_id
	`, placeholders(len(gpuIDs))), overlapArgs...))
	if err != nil {
		return 0, err
	}
	if len(conflicting) > 0 {
		return 0, &ConflictError{GPUID: conflicting[0]}
	}

	res, err := tx.Exec(`
		INSERT INTO reservations (node_id, start_utc, end_utc, user_label, priority, status, created_utc, updated_utc)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?)
	`, nodeID, startStr, endStr, label, priority, nowStr, nowStr)
	if err != nil {
		return 0, err
	}
	reservationID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, gpuID := range gpuIDs {
		_, err := tx.Exec(
			"INSERT INTO reservation_allocations (reservation_id, gpu_id) VALUES (?, ?)",
			reservationID, gpuID,
		)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return reservationID, nil
}

// ListAllocatedGPUIDs returns the ids with at least one active reservation
// overlapping the window.
func (s *Store) ListAllocatedGPUIDs(nodeID string, start, end time.Time) ([]string, error) {
	return scanIDs(s.db.Query(`
		SELECT DISTINCT ra.gpu_id
		FROM reservation_allocations ra
		JOIN reservations r ON r.id = ra.reservation_id
		WHERE r.node_id = ?
		  AND r.status = 'active'
		  AND NOT (? >= r.end_utc OR ? <= r.start_utc)
	`, nodeID, formatTime(start), formatTime(end)))
}

// SelectFreeGPUIDs returns count GPU ids that are free for the whole window,
// ascending by id so repeated calls under unchanged state agree. It returns
// nil when fewer than count are free; callers never receive a partial set.
func (s *Store) SelectFreeGPUIDs(nodeID string, start, end time.Time, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	allocated, err := s.ListAllocatedGPUIDs(nodeID, start, end)
	if err != nil {
		return nil, err
	}
	allocatedSet := make(map[string]bool, len(allocated))
	for _, id := range allocated {
		allocatedSet[id] = true
	}

	all, err := scanIDs(s.db.Query("SELECT id FROM gpus WHERE node_id = ? ORDER BY id", nodeID))
	if err != nil {
		return nil, err
	}

	free := make([]string, 0, len(all))
	for _, id := range all {
		if !allocatedSet[id] {
			free = append(free, id)
		}
	}
	if len(free) < count {
		return nil, nil
	}
	return free[:count], nil
}

// ListReservationsOverlapping returns every reservation of any status
// intersecting the window, each with its allocated GPU ids.
func (s *Store) ListReservationsOverlapping(nodeID string, start, end time.Time) ([]models.Reservation, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.node_id, r.start_utc, r.end_utc, r.user_label, r.priority, r.status,
		       r.created_utc, r.updated_utc, group_concat(ra.gpu_id, ',') AS gpu_ids
		FROM reservations r
		JOIN reservation_allocations ra ON ra.reservation_id = r.id
		WHERE r.node_id = ?
		  AND NOT (? >= r.end_utc OR ? <= r.start_utc)
		GROUP BY r.id
		ORDER BY r.start_utc, r.id
	`, nodeID, formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reservations := []models.Reservation{}
	for rows.Next() {
		var r models.Reservation
		var startStr, endStr, createdStr, updatedStr, gpuIDs string
		if err := rows.Scan(&r.ID, &r.NodeID, &startStr, &endStr, &r.UserLabel, &r.Priority, &r.Status, &createdStr, &updatedStr, &gpuIDs); err != nil {
			return nil, err
		}
		if r.Start, err = parseTime(startStr); err != nil {
			return nil, fmt.Errorf("reservation %d start: %w", r.ID, err)
		}
		if r.End, err = parseTime(endStr); err != nil {
			return nil, fmt.Errorf("reservation %d end: %w", r.ID, err)
		}
		if r.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("reservation %d created: %w", r.ID, err)
		}
		if r.UpdatedAt, err = parseTime(updatedStr); err != nil {
			return nil, fmt.Errorf("reservation %d updated: %w", r.ID, err)
		}
		r.GPUIDs = splitIDs(gpuIDs)
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

// MarkCompleted transitions active -> completed. False when the id is
// unknown or already terminal; repeated calls are side-effect-free.
func (s *Store) MarkCompleted(id int64) (bool, error) {
	return s.terminate(id, models.StatusCompleted)
}

// Cancel transitions active -> cancelled with the same idempotency contract.
func (s *Store) Cancel(id int64) (bool, error) {
	return s.terminate(id, models.StatusCancelled)
}

func (s *Store) terminate(id int64, status models.Status) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE reservations SET status = ?, updated_utc = ?
		WHERE id = ? AND status = 'active'
	`, status, formatTime(time.Now()), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanIDs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func splitIDs(s string) []string {
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	sort.Strings(ids)
	return ids
}
