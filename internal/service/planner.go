package service

import (
	"errors"
	"strings"
	"time"

	"github.com/ulvgard/procplan/internal/availability"
	"github.com/ulvgard/procplan/internal/models"
	"github.com/ulvgard/procplan/internal/store"
)

// CreateRequest carries one reservation request into the planner. Exactly
// one of GPUIDs and GPUCount must be set; the other selects the mode.
type CreateRequest struct {
	NodeID    string
	Start     time.Time
	End       time.Time
	UserLabel string
	GPUIDs    []string
	GPUCount  int
	Priority  models.Priority
}

// CreateReservation validates the request, picks GPUs when the caller asked
// for a count, and commits through the store's atomic check. On the
// auto-select path a ConflictError from the commit step is surfaced as a
// capacity failure: the selection was invalidated, not the request.
func (s *Service) CreateReservation(req CreateRequest) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := availability.ValidateWindow(req.Start, req.End); err != nil {
		return nil, err
	}

	label := strings.TrimSpace(req.UserLabel)
	if label == "" {
		return nil, &store.ValidationError{Reason: "user label must not be empty"}
	}

	priority := req.Priority
	switch priority {
	case "":
		priority = models.PriorityMedium
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		return nil, &store.ValidationError{Reason: "priority must be one of low, medium, high"}
	}

	node, err := s.store.FetchNode(req.NodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &store.NotFoundError{NodeID: req.NodeID}
	}

	explicit := len(req.GPUIDs) > 0
	if explicit && req.GPUCount > 0 {
		return nil, &store.ValidationError{Reason: "supply either gpu_ids or gpu_count, not both"}
	}
	if !explicit && req.GPUCount <= 0 {
		return nil, &store.ValidationError{Reason: "either gpu_ids or a positive gpu_count must be provided"}
	}

	gpuIDs := req.GPUIDs
	if !explicit {
		selected, err := s.store.SelectFreeGPUIDs(req.NodeID, req.Start, req.End, req.GPUCount)
		if err != nil {
			return nil, err
		}
		if len(selected) == 0 {
			return nil, s.capacityError(node, req)
		}
		gpuIDs = selected
	}

	id, err := s.store.CreateReservation(req.NodeID, gpuIDs, req.Start, req.End, label, priority)
	if err != nil {
		var conflict *store.ConflictError
		if !explicit && errors.As(err, &conflict) {
			// Concurrent activity consumed the selection between select and
			// commit; report it the way the caller asked the question.
			return nil, s.capacityError(node, req)
		}
		return nil, err
	}

	s.cache.Purge()

	return &models.Reservation{
		ID:        id,
		NodeID:    req.NodeID,
		GPUIDs:    gpuIDs,
		Start:     req.Start.UTC(),
		End:       req.End.UTC(),
		UserLabel: label,
		Priority:  priority,
		Status:    models.StatusActive,
	}, nil
}

func (s *Service) capacityError(node *models.Node, req CreateRequest) error {
	allocated, err := s.store.ListAllocatedGPUIDs(req.NodeID, req.Start, req.End)
	if err != nil {
		return err
	}
	return &store.CapacityError{Requested: req.GPUCount, Free: node.GPUCount - len(allocated)}
}
