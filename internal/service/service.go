// Package service is the facade the transport layer talks to. One mutex
// guards the cache and all store access for the duration of each logical
// operation; the lock is never re-entered from inside store access, so
// allocation races serialize on it and the second of two racing attempts
// observes the first's committed state. The catalog lives in the store
// after sync; the facade keeps only the path for reloads.
package service

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ulvgard/procplan/internal/availability"
	"github.com/ulvgard/procplan/internal/cache"
	"github.com/ulvgard/procplan/internal/catalog"
	"github.com/ulvgard/procplan/internal/db"
	"github.com/ulvgard/procplan/internal/models"
	"github.com/ulvgard/procplan/internal/store"
)

type Service struct {
	mu          sync.Mutex
	catalogPath string
	store       *store.Store
	cache       *cache.Cache
}

// New loads the catalog, syncs it into the store and wires the default
// cache. The instance owns all shared state; there are no package globals.
func New(catalogPath string, database *db.DB) (*Service, error) {
	return NewWithCache(catalogPath, database, cache.New(cache.DefaultCapacity, cache.DefaultTTL))
}

func NewWithCache(catalogPath string, database *db.DB, c *cache.Cache) (*Service, error) {
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	s := &Service{
		catalogPath: catalogPath,
		store:       store.New(database),
		cache:       c,
	}
	if err := s.store.SyncCatalog(cat); err != nil {
		return nil, fmt.Errorf("syncing catalog: %w", err)
	}
	return s, nil
}

func (s *Service) ListNodes() ([]models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ListNodes()
}

// ComputeAvailability is the read path: cache hit, or engine recompute from
// a store snapshot followed by a cache fill. A hit is served without any
// store access; every mutation and reload purges the whole cache, so an
// entry cannot outlive its node.
func (s *Service) ComputeAvailability(nodeID string, start, end time.Time, resolution models.Resolution) (*models.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := availability.ValidateWindow(start, end); err != nil {
		return nil, err
	}

	key := cache.NewKey(nodeID, start, end, resolution)
	if grid, ok := s.cache.Get(key); ok {
		return grid, nil
	}

	node, err := s.store.FetchNode(nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &store.NotFoundError{NodeID: nodeID}
	}

	reservations, err := s.store.ListReservationsOverlapping(nodeID, start, end)
	if err != nil {
		return nil, err
	}
	grid, err := availability.Compute(*node, start, end, resolution, reservations)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, grid)
	return grid, nil
}

// MarkComplete transitions a reservation to completed. False for unknown or
// already-terminal ids, with no state change either way.
func (s *Service) MarkComplete(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.store.MarkCompleted(id)
	if err != nil {
		return false, err
	}
	if ok {
		s.cache.Purge()
	}
	return ok, nil
}

func (s *Service) Cancel(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.store.Cancel(id)
	if err != nil {
		return false, err
	}
	if ok {
		s.cache.Purge()
	}
	return ok, nil
}

// ReloadCatalog replaces the topology snapshot wholesale and re-syncs it
// into the store. The cache cannot outlive a topology change.
func (s *Service) ReloadCatalog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, err := catalog.Load(s.catalogPath)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	if err := s.store.SyncCatalog(cat); err != nil {
		return fmt.Errorf("syncing catalog: %w", err)
	}
	s.cache.Purge()
	log.Printf("Service: catalog reloaded (%d nodes)", len(cat.Nodes))
	return nil
}

// DefaultWindow is the window used when a client asks for availability
// without bounds: the current UTC day, rolled over to tomorrow once the
// evening (20:00Z) is reached.
func (s *Service) DefaultWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if now.Hour() >= 20 {
		dayStart = dayStart.AddDate(0, 0, 1)
	}
	return dayStart, dayStart.AddDate(0, 0, 1)
}
