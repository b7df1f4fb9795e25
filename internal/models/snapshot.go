package models

import (
	"encoding/json"
	"fmt"
)

// SnapshotKind is the typed variant tag of a Snapshot. The wire value is
// still the original "vehicles"/"stops" string, but callers match on the
// enum rather than probing field names.
type SnapshotKind int

const (
	SnapshotVehicles SnapshotKind = iota
	SnapshotStops
)

// String returns the wire name of the kind.
func (k SnapshotKind) String() string {
	switch k {
	case SnapshotStops:
		return "stops"
	default:
		return "vehicles"
	}
}

// MarshalJSON encodes the kind as its wire name.
func (k SnapshotKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON decodes the wire name back into the enum.
func (k *SnapshotKind) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"vehicles"`:
		*k = SnapshotVehicles
	case `"stops"`:
		*k = SnapshotStops
	default:
		return fmt.Errorf("unknown snapshot kind %s", b)
	}
	return nil
}

// MissingTrip is a scheduled, currently-active trip with no corresponding
// live vehicle in the current pass.
type MissingTrip struct {
	TripID string `json:"trip_id"`
	// ServiceID is the trip's own service id; AcceptableServiceID repeats
	// it after validation against the active service set.
	ServiceID           string `json:"service_id"`
	AcceptableServiceID string `json:"acceptable_service_id"`
	TripStartTime       int64  `json:"trip_start_time"`
	TripEndTime         int64  `json:"trip_end_time"`
	RouteID             string `json:"route_id"`
	RouteLongName       string `json:"route_long_name"`
}

// StopUpdate is one flattened stop-level delay record for agencies that
// expose trip updates without vehicle positions.
type StopUpdate struct {
	OID          int    `json:"oid"`
	StopID       string `json:"stop_id"`
	StopSequence int    `json:"stop_sequence"`
	Delay        int    `json:"delay"`
	Mode         string `json:"type"` // "bus" or "train"
	TripID       string `json:"trip_id"`
	RouteID      string `json:"route_id"`
	RouteNumber  string `json:"route_number"`
	DirectionID  int    `json:"direction_id"`
}

// Snapshot is the per-agency output envelope handed to the publishing
// layer. Exactly one variant's payload is populated, selected by Kind.
type Snapshot struct {
	Agency string       `json:"agency"`
	Kind   SnapshotKind `json:"type"`

	// Vehicles variant
	GeoJSON      *FeatureCollection `json:"geojson,omitempty"`
	MissingTrips []MissingTrip      `json:"missingTrips,omitempty"`

	// Stops variant
	StopUpdates []StopUpdate `json:"stop_updates,omitempty"`
}

type vehicleSnapshotJSON struct {
	Agency       string            `json:"agency"`
	Kind         SnapshotKind      `json:"type"`
	GeoJSON      FeatureCollection `json:"geojson"`
	MissingTrips []MissingTrip     `json:"missingTrips"`
}

type stopSnapshotJSON struct {
	Agency      string       `json:"agency"`
	Kind        SnapshotKind `json:"type"`
	StopUpdates []StopUpdate `json:"stop_updates"`
}

// MarshalJSON emits only the active variant's payload. Lists are always
// present, possibly empty: a pass yields a complete snapshot or none.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SnapshotStops:
		updates := s.StopUpdates
		if updates == nil {
			updates = []StopUpdate{}
		}
		return json.Marshal(stopSnapshotJSON{Agency: s.Agency, Kind: s.Kind, StopUpdates: updates})
	default:
		fc := NewFeatureCollection(nil)
		if s.GeoJSON != nil {
			fc = *s.GeoJSON
		}
		missing := s.MissingTrips
		if missing == nil {
			missing = []MissingTrip{}
		}
		return json.Marshal(vehicleSnapshotJSON{Agency: s.Agency, Kind: s.Kind, GeoJSON: fc, MissingTrips: missing})
	}
}

// NewVehicleSnapshot assembles the vehicles variant. Nil slices become
// empty ones: a pass always yields a complete snapshot, never null lists.
func NewVehicleSnapshot(agencyID string, features []VehicleFeature, missing []MissingTrip) *Snapshot {
	fc := NewFeatureCollection(features)
	if missing == nil {
		missing = []MissingTrip{}
	}
	return &Snapshot{
		Agency:       agencyID,
		Kind:         SnapshotVehicles,
		GeoJSON:      &fc,
		MissingTrips: missing,
	}
}

// NewStopSnapshot assembles the stops variant.
func NewStopSnapshot(agencyID string, updates []StopUpdate) *Snapshot {
	if updates == nil {
		updates = []StopUpdate{}
	}
	return &Snapshot{
		Agency:      agencyID,
		Kind:        SnapshotStops,
		StopUpdates: updates,
	}
}
