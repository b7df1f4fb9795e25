package gtfsdb

import (
	"context"
	"sync"

	"github.com/tidwall/rtree"

	"reconciler.transitchat.org/internal/utils"
)

// StopIndex is an in-memory spatial index over stop coordinates, rebuilt
// after each static import. It backs nearest-stop diagnostics for vehicle
// positions that fail reconciliation.
type StopIndex struct {
	mu    sync.RWMutex
	trees map[string]*rtree.RTreeG[Stop]
}

func NewStopIndex() *StopIndex {
	return &StopIndex{trees: make(map[string]*rtree.RTreeG[Stop])}
}

// Rebuild replaces the agency's tree with one built from stops.
func (idx *StopIndex) Rebuild(agencyID string, stops []Stop) {
	tree := &rtree.RTreeG[Stop]{}
	for _, s := range stops {
		pt := [2]float64{s.Lon, s.Lat}
		tree.Insert(pt, pt, s)
	}

	idx.mu.Lock()
	idx.trees[agencyID] = tree
	idx.mu.Unlock()
}

// NearbyStop pairs a stop with its great-circle distance from the query
// point.
type NearbyStop struct {
	Stop           Stop
	DistanceMeters float64
}

// Nearest returns up to limit stops ordered by distance from (lon, lat).
func (idx *StopIndex) Nearest(agencyID string, lon, lat float64, limit int) []NearbyStop {
	idx.mu.RLock()
	tree := idx.trees[agencyID]
	idx.mu.RUnlock()

	if tree == nil || limit <= 0 {
		return nil
	}

	target := [2]float64{lon, lat}
	var results []NearbyStop
	tree.Nearby(
		rtree.BoxDist[float64, Stop](target, target, nil),
		func(min, max [2]float64, s Stop, dist float64) bool {
			results = append(results, NearbyStop{
				Stop:           s,
				DistanceMeters: utils.Distance(lat, lon, s.Lat, s.Lon),
			})
			return len(results) < limit
		},
	)
	return results
}

// Len reports the number of indexed stops for the agency.
func (idx *StopIndex) Len(agencyID string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tree := idx.trees[agencyID]
	if tree == nil {
		return 0
	}
	return tree.Len()
}

// RebuildStopIndex reloads the agency's stops from the store into the
// spatial index.
func (c *Client) RebuildStopIndex(ctx context.Context, agencyID string) error {
	stops, err := c.Queries.ListStops(ctx, agencyID)
	if err != nil {
		return err
	}
	c.Stops.Rebuild(agencyID, stops)
	return nil
}
