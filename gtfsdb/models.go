package gtfsdb

import (
	"context"
	"database/sql"
)

// DBTX abstracts *sql.DB and *sql.Tx so query methods run inside or
// outside a transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the hand-written SQL methods of the schedule store.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Agency struct {
	ID       string
	Name     string
	Url      string
	Timezone string
	Lang     sql.NullString
	Phone    sql.NullString
	FareUrl  sql.NullString
	Email    sql.NullString
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName sql.NullString
	LongName  sql.NullString
	Desc      sql.NullString
	Type      int64
	Color     sql.NullString
	TextColor sql.NullString
}

type Calendar struct {
	ServiceID string
	AgencyID  string
	Monday    int64
	Tuesday   int64
	Wednesday int64
	Thursday  int64
	Friday    int64
	Saturday  int64
	Sunday    int64
	StartDate string // yyyymmdd
	EndDate   string // yyyymmdd
}

type CalendarDate struct {
	ServiceID     string
	AgencyID      string
	Date          string // yyyymmdd
	ExceptionType int64
}

type Trip struct {
	ID           string
	AgencyID     string
	RouteID      string
	ServiceID    string
	TripHeadsign sql.NullString
	DirectionID  sql.NullInt64
	BlockID      sql.NullString
	ShapeID      sql.NullString
}

type StopTime struct {
	TripID             string
	AgencyID           string
	ArrivalTime        string // HH:MM:SS, hours may exceed 24
	DepartureTime      string
	ArrivalTimestamp   int64 // seconds after midnight
	DepartureTimestamp int64
	StopID             string
	StopSequence       int64
}

type Stop struct {
	ID       string
	AgencyID string
	Code     sql.NullString
	Name     sql.NullString
	Lat      float64
	Lon      float64
}

type Shape struct {
	ShapeID    string
	AgencyID   string
	Polyline   string // Google encoded polyline
	PointCount int64
}

type ImportMetadata struct {
	AgencyID   string
	FileHash   string
	ImportTime int64
	FileSource string
}

// TripWithRoutes is a trip row joined with every route row sharing the
// trip's route id. More than one route per trip signals an ambiguous
// schedule and is left to the caller's route policy.
type TripWithRoutes struct {
	Trip   Trip
	Routes []Route
}
