package models

// GeoJSON output types. The snapshot contract predates this service, so
// the property names below are wire format, not Go preference.

// PointGeometry is a GeoJSON Point.
type PointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // lon, lat
}

// StopTimeUpdate is the normalized per-stop prediction carried on a
// vehicle feature: stop, sequence, departure delay and predicted time.
type StopTimeUpdate struct {
	StopID       string `json:"stop_id"`
	StopSequence int    `json:"stop_sequence"`
	Delay        *int32 `json:"delay"`
	Time         *int64 `json:"time"`
}

// VehicleProperties carries everything known about one reconciled vehicle.
// Every field is required: a feature is only built once all of them have
// resolved to concrete values.
type VehicleProperties struct {
	ID              int              `json:"id"`
	TripID          string           `json:"trip_id"`
	VehicleID       string           `json:"vehicle_id"`
	RouteID         string           `json:"route_id"`
	DirectionID     int              `json:"direction_id"`
	Timestamp       int64            `json:"timestamp"`
	StopTimeUpdates []StopTimeUpdate `json:"stop_time_update"`
	StartTime       string           `json:"start_time"`
	Delay           int              `json:"delay"`
	DelayType       string           `json:"delay_type"`
	Headsign        string           `json:"headsign"`
	RouteShortName  string           `json:"route_short_name"`
	RouteLongName   string           `json:"route_long_name"`
	Lon             float64          `json:"lon"`
	Lat             float64          `json:"lat"`
}

// VehicleFeature is a GeoJSON Feature wrapping VehicleProperties.
type VehicleFeature struct {
	Type       string            `json:"type"`
	ID         int               `json:"id"`
	Geometry   PointGeometry     `json:"geometry"`
	Properties VehicleProperties `json:"properties"`
}

// FeatureCollection is a GeoJSON FeatureCollection of vehicle features.
type FeatureCollection struct {
	Type     string           `json:"type"`
	Features []VehicleFeature `json:"features"`
}

// NewVehicleFeature builds a Point feature at (lon, lat) with the given
// properties. The feature id mirrors props.ID.
func NewVehicleFeature(props VehicleProperties) VehicleFeature {
	return VehicleFeature{
		Type: "Feature",
		ID:   props.ID,
		Geometry: PointGeometry{
			Type:        "Point",
			Coordinates: [2]float64{props.Lon, props.Lat},
		},
		Properties: props,
	}
}

// NewFeatureCollection wraps features in a FeatureCollection, normalizing
// nil to an empty slice so the JSON always carries an array.
func NewFeatureCollection(features []VehicleFeature) FeatureCollection {
	if features == nil {
		features = []VehicleFeature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}
