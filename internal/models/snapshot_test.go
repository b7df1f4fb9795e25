package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVehicleSnapshotJSONShape(t *testing.T) {
	delay := int32(120)
	ts := int64(1700000000)
	feature := NewVehicleFeature(VehicleProperties{
		ID:          0,
		TripID:      "T1",
		VehicleID:   "V1",
		RouteID:     "R1",
		DirectionID: 0,
		Timestamp:   1000,
		StopTimeUpdates: []StopTimeUpdate{
			{StopID: "S1", StopSequence: 1, Delay: &delay, Time: &ts},
		},
		StartTime: "08:15:00",
		Delay:     120,
		DelayType: "on-time",
		Headsign:  "Downtown",
		Lon:       -90.2,
		Lat:       38.6,
	})

	snap := NewVehicleSnapshot("stlouis", []VehicleFeature{feature}, nil)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "stlouis", decoded["agency"])
	assert.Equal(t, "vehicles", decoded["type"])
	assert.Contains(t, decoded, "geojson")
	assert.Contains(t, decoded, "missingTrips")
	assert.NotContains(t, decoded, "stop_updates")

	// missingTrips must be an empty array, not null
	assert.Equal(t, []any{}, decoded["missingTrips"])

	gj := decoded["geojson"].(map[string]any)
	assert.Equal(t, "FeatureCollection", gj["type"])
	features := gj["features"].([]any)
	require.Len(t, features, 1)
	geom := features[0].(map[string]any)["geometry"].(map[string]any)
	assert.Equal(t, "Point", geom["type"])
	coords := geom["coordinates"].([]any)
	assert.Equal(t, -90.2, coords[0])
	assert.Equal(t, 38.6, coords[1])
}

func TestStopSnapshotJSONShape(t *testing.T) {
	snap := NewStopSnapshot("anytown", []StopUpdate{
		{OID: 0, StopID: "S9", StopSequence: 3, Delay: 45, Mode: "bus", TripID: "T9", RouteID: "R9", RouteNumber: "90", DirectionID: 1},
	})
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "stops", decoded["type"])
	assert.Contains(t, decoded, "stop_updates")
	assert.NotContains(t, decoded, "geojson")
	assert.NotContains(t, decoded, "missingTrips")

	updates := decoded["stop_updates"].([]any)
	require.Len(t, updates, 1)
	first := updates[0].(map[string]any)
	assert.Equal(t, "bus", first["type"])
	assert.Equal(t, "90", first["route_number"])
}

func TestSnapshotKindRoundTrip(t *testing.T) {
	for _, kind := range []SnapshotKind{SnapshotVehicles, SnapshotStops} {
		data, err := json.Marshal(kind)
		require.NoError(t, err)

		var decoded SnapshotKind
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, kind, decoded)
	}

	var bad SnapshotKind
	assert.Error(t, json.Unmarshal([]byte(`"alerts"`), &bad))
}
