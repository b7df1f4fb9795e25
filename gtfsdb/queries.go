package gtfsdb

// Hand-written query implementations. The reconciliation queries expand
// IN-lists at runtime (seen trip ids, active service ids), which rules out
// static SQL generation, so the whole file is maintained manually.
//
// IMPORTANT: if the table schemas in schema.sql change, the SQL and Go
// types in this file must be updated by hand to match.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const createAgency = `
INSERT INTO agencies (id, name, url, timezone, lang, phone, fare_url, email)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    url = excluded.url,
    timezone = excluded.timezone
`

type CreateAgencyParams struct {
	ID       string
	Name     string
	Url      string
	Timezone string
	Lang     sql.NullString
	Phone    sql.NullString
	FareUrl  sql.NullString
	Email    sql.NullString
}

func (q *Queries) CreateAgency(ctx context.Context, arg CreateAgencyParams) error {
	_, err := q.db.ExecContext(ctx, createAgency,
		arg.ID, arg.Name, arg.Url, arg.Timezone, arg.Lang, arg.Phone, arg.FareUrl, arg.Email)
	return err
}

const createRoute = `
INSERT INTO routes (id, agency_id, short_name, long_name, "desc", type, color, text_color)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateRouteParams struct {
	ID        string
	AgencyID  string
	ShortName sql.NullString
	LongName  sql.NullString
	Desc      sql.NullString
	Type      int64
	Color     sql.NullString
	TextColor sql.NullString
}

func (q *Queries) CreateRoute(ctx context.Context, arg CreateRouteParams) error {
	_, err := q.db.ExecContext(ctx, createRoute,
		arg.ID, arg.AgencyID, arg.ShortName, arg.LongName, arg.Desc, arg.Type, arg.Color, arg.TextColor)
	return err
}

const createCalendar = `
INSERT INTO calendar (
    service_id, agency_id, monday, tuesday, wednesday, thursday, friday,
    saturday, sunday, start_date, end_date
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateCalendarParams struct {
	ServiceID string
	AgencyID  string
	Monday    int64
	Tuesday   int64
	Wednesday int64
	Thursday  int64
	Friday    int64
	Saturday  int64
	Sunday    int64
	StartDate string
	EndDate   string
}

func (q *Queries) CreateCalendar(ctx context.Context, arg CreateCalendarParams) error {
	_, err := q.db.ExecContext(ctx, createCalendar,
		arg.ServiceID, arg.AgencyID, arg.Monday, arg.Tuesday, arg.Wednesday,
		arg.Thursday, arg.Friday, arg.Saturday, arg.Sunday, arg.StartDate, arg.EndDate)
	return err
}

const createCalendarDate = `
INSERT INTO calendar_dates (service_id, agency_id, date, exception_type)
VALUES (?, ?, ?, ?)
`

type CreateCalendarDateParams struct {
	ServiceID     string
	AgencyID      string
	Date          string
	ExceptionType int64
}

func (q *Queries) CreateCalendarDate(ctx context.Context, arg CreateCalendarDateParams) error {
	_, err := q.db.ExecContext(ctx, createCalendarDate,
		arg.ServiceID, arg.AgencyID, arg.Date, arg.ExceptionType)
	return err
}

const createTrip = `
INSERT INTO trips (id, agency_id, route_id, service_id, trip_headsign, direction_id, block_id, shape_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateTripParams struct {
	ID           string
	AgencyID     string
	RouteID      string
	ServiceID    string
	TripHeadsign sql.NullString
	DirectionID  sql.NullInt64
	BlockID      sql.NullString
	ShapeID      sql.NullString
}

func (q *Queries) CreateTrip(ctx context.Context, arg CreateTripParams) error {
	_, err := q.db.ExecContext(ctx, createTrip,
		arg.ID, arg.AgencyID, arg.RouteID, arg.ServiceID,
		arg.TripHeadsign, arg.DirectionID, arg.BlockID, arg.ShapeID)
	return err
}

const createStop = `
INSERT INTO stops (id, agency_id, code, name, lat, lon)
VALUES (?, ?, ?, ?, ?, ?)
`

type CreateStopParams struct {
	ID       string
	AgencyID string
	Code     sql.NullString
	Name     sql.NullString
	Lat      float64
	Lon      float64
}

func (q *Queries) CreateStop(ctx context.Context, arg CreateStopParams) error {
	_, err := q.db.ExecContext(ctx, createStop,
		arg.ID, arg.AgencyID, arg.Code, arg.Name, arg.Lat, arg.Lon)
	return err
}

const createShape = `
INSERT INTO shapes (shape_id, agency_id, polyline, point_count)
VALUES (?, ?, ?, ?)
`

type CreateShapeParams struct {
	ShapeID    string
	AgencyID   string
	Polyline   string
	PointCount int64
}

func (q *Queries) CreateShape(ctx context.Context, arg CreateShapeParams) error {
	_, err := q.db.ExecContext(ctx, createShape,
		arg.ShapeID, arg.AgencyID, arg.Polyline, arg.PointCount)
	return err
}

const getImportMetadata = `
SELECT agency_id, file_hash, import_time, file_source
FROM import_metadata
WHERE agency_id = ?
`

func (q *Queries) GetImportMetadata(ctx context.Context, agencyID string) (ImportMetadata, error) {
	var m ImportMetadata
	err := q.db.QueryRowContext(ctx, getImportMetadata, agencyID).Scan(
		&m.AgencyID, &m.FileHash, &m.ImportTime, &m.FileSource)
	return m, err
}

const upsertImportMetadata = `
INSERT INTO import_metadata (agency_id, file_hash, import_time, file_source)
VALUES (?, ?, ?, ?)
ON CONFLICT (agency_id) DO UPDATE SET
    file_hash = excluded.file_hash,
    import_time = excluded.import_time,
    file_source = excluded.file_source
`

type UpsertImportMetadataParams struct {
	AgencyID   string
	FileHash   string
	ImportTime int64
	FileSource string
}

func (q *Queries) UpsertImportMetadata(ctx context.Context, arg UpsertImportMetadataParams) error {
	_, err := q.db.ExecContext(ctx, upsertImportMetadata,
		arg.AgencyID, arg.FileHash, arg.ImportTime, arg.FileSource)
	return err
}

// clearAgencyTables lists every agency-scoped table in delete order.
var clearAgencyTables = []string{
	"stop_times",
	"shapes",
	"trips",
	"calendar_dates",
	"calendar",
	"stops",
	"routes",
}

// ClearAgencyData removes every schedule row belonging to agencyID.
func (q *Queries) ClearAgencyData(ctx context.Context, agencyID string) error {
	for _, table := range clearAgencyTables {
		if _, err := q.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE agency_id = ?", table), agencyID); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}
	return nil
}

const getTripRow = `
SELECT id, agency_id, route_id, service_id, trip_headsign, direction_id, block_id, shape_id
FROM trips
WHERE id = ? AND agency_id = ?
`

const getRoutesByID = `
SELECT id, agency_id, short_name, long_name, "desc", type, color, text_color
FROM routes
WHERE id = ? AND agency_id = ?
`

// GetTripWithRoutes loads a trip and every route row sharing its route id.
// A missing trip yields sql.ErrNoRows.
func (q *Queries) GetTripWithRoutes(ctx context.Context, tripID, agencyID string) (TripWithRoutes, error) {
	var result TripWithRoutes

	err := q.db.QueryRowContext(ctx, getTripRow, tripID, agencyID).Scan(
		&result.Trip.ID,
		&result.Trip.AgencyID,
		&result.Trip.RouteID,
		&result.Trip.ServiceID,
		&result.Trip.TripHeadsign,
		&result.Trip.DirectionID,
		&result.Trip.BlockID,
		&result.Trip.ShapeID,
	)
	if err != nil {
		return result, err
	}

	rows, err := q.db.QueryContext(ctx, getRoutesByID, result.Trip.RouteID, agencyID)
	if err != nil {
		return result, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	for rows.Next() {
		var r Route
		if err := rows.Scan(
			&r.ID, &r.AgencyID, &r.ShortName, &r.LongName,
			&r.Desc, &r.Type, &r.Color, &r.TextColor,
		); err != nil {
			return result, err
		}
		result.Routes = append(result.Routes, r)
	}
	if err := rows.Close(); err != nil {
		return result, err
	}
	if err := rows.Err(); err != nil {
		return result, err
	}
	return result, nil
}

const getCalendarDateServiceIDs = `
SELECT service_id
FROM calendar_dates
WHERE agency_id = ? AND date = ? AND exception_type = 1
`

// GetCalendarDateServiceIDs returns the service ids explicitly added for a
// yyyymmdd date.
func (q *Queries) GetCalendarDateServiceIDs(ctx context.Context, agencyID, date string) ([]string, error) {
	return q.queryServiceIDs(ctx, getCalendarDateServiceIDs, agencyID, date)
}

// weekdayColumns constrains the interpolated column name to the calendar
// schema; never index this map with user input from any other source.
var weekdayColumns = map[time.Weekday]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// GetCalendarServiceIDs returns recurring service ids whose weekday flag is
// set and whose [start_date, end_date] range contains the yyyymmdd date.
func (q *Queries) GetCalendarServiceIDs(ctx context.Context, agencyID, date string, weekday time.Weekday) ([]string, error) {
	column, ok := weekdayColumns[weekday]
	if !ok {
		return nil, fmt.Errorf("invalid weekday %d", weekday)
	}

	query := fmt.Sprintf(`
SELECT service_id
FROM calendar
WHERE agency_id = ? AND %s = 1 AND start_date <= ? AND end_date >= ?
`, column)

	return q.queryServiceIDs(ctx, query, agencyID, date, date)
}

func (q *Queries) queryServiceIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

const getMaxArrivalTime = `
SELECT arrival_time, arrival_timestamp
FROM stop_times
WHERE agency_id = ?
ORDER BY arrival_timestamp DESC
LIMIT 1
`

type MaxArrivalTimeRow struct {
	ArrivalTime      string // HH:MM:SS, hours may exceed 24
	ArrivalTimestamp int64  // seconds after midnight
}

// GetMaxArrivalTime returns the latest scheduled arrival across the agency's
// stop times. An empty schedule yields sql.ErrNoRows.
func (q *Queries) GetMaxArrivalTime(ctx context.Context, agencyID string) (MaxArrivalTimeRow, error) {
	var row MaxArrivalTimeRow
	err := q.db.QueryRowContext(ctx, getMaxArrivalTime, agencyID).Scan(
		&row.ArrivalTime, &row.ArrivalTimestamp)
	return row, err
}

type FindMissingTripsParams struct {
	AgencyID               string
	ServiceIDs             []string // active services; empty means no trips can match
	SeenTripIDs            []string // trips already reported by the live feed
	ExcludedRouteLongNames []string
	// ArrivalLow/ArrivalHigh bound the seconds-after-midnight window a
	// trip's scheduled arrival must fall in. Equal values demand an exact
	// match.
	ArrivalLow  int64
	ArrivalHigh int64
}

type MissingTripRow struct {
	TripID        string
	ServiceID     string
	RouteID       string
	RouteLongName string
	TripStartTime int64 // departure_timestamp of the matching stop time
	TripEndTime   int64 // arrival_timestamp of the matching stop time
}

// FindMissingTrips returns scheduled trips on active services with no live
// counterpart whose schedule places them at a stop inside the arrival
// window.
func (q *Queries) FindMissingTrips(ctx context.Context, arg FindMissingTripsParams) ([]MissingTripRow, error) {
	if len(arg.ServiceIDs) == 0 {
		return nil, nil
	}

	var query strings.Builder
	args := make([]interface{}, 0, len(arg.ServiceIDs)+len(arg.SeenTripIDs)+len(arg.ExcludedRouteLongNames)+3)

	query.WriteString(`
SELECT
    t.id,
    t.service_id,
    t.route_id,
    COALESCE(r.long_name, ''),
    st.departure_timestamp,
    MIN(st.arrival_timestamp)
FROM trips t
JOIN stop_times st ON st.trip_id = t.id AND st.agency_id = t.agency_id
JOIN routes r ON r.id = t.route_id AND r.agency_id = t.agency_id
WHERE t.agency_id = ?
  AND t.service_id IN (`)
	args = append(args, arg.AgencyID)
	writePlaceholders(&query, len(arg.ServiceIDs))
	for _, id := range arg.ServiceIDs {
		args = append(args, id)
	}
	query.WriteString(")")

	if len(arg.SeenTripIDs) > 0 {
		query.WriteString("\n  AND t.id NOT IN (")
		writePlaceholders(&query, len(arg.SeenTripIDs))
		for _, id := range arg.SeenTripIDs {
			args = append(args, id)
		}
		query.WriteString(")")
	}

	if len(arg.ExcludedRouteLongNames) > 0 {
		query.WriteString("\n  AND COALESCE(r.long_name, '') NOT IN (")
		writePlaceholders(&query, len(arg.ExcludedRouteLongNames))
		for _, name := range arg.ExcludedRouteLongNames {
			args = append(args, name)
		}
		query.WriteString(")")
	}

	query.WriteString("\n  AND st.arrival_timestamp BETWEEN ? AND ?")
	args = append(args, arg.ArrivalLow, arg.ArrivalHigh)

	// The grouped MIN pins the earliest matching stop time per trip; the
	// bare departure_timestamp column resolves to that same row (SQLite's
	// documented min/max bare-column behavior), so start and end come from
	// one stop time.
	query.WriteString(`
GROUP BY t.id, t.service_id, t.route_id, r.long_name
ORDER BY t.id
`)

	rows, err := q.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var items []MissingTripRow
	for rows.Next() {
		var i MissingTripRow
		if err := rows.Scan(
			&i.TripID,
			&i.ServiceID,
			&i.RouteID,
			&i.RouteLongName,
			&i.TripStartTime,
			&i.TripEndTime,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// writePlaceholders appends n comma-separated "?" marks. Only placeholders
// go into the query string; values always travel as bound args.
func writePlaceholders(b *strings.Builder, n int) {
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
}

const listStops = `
SELECT id, agency_id, code, name, lat, lon
FROM stops
WHERE agency_id = ?
ORDER BY id
`

// ListStops returns every stop of the agency, feeding the spatial index.
func (q *Queries) ListStops(ctx context.Context, agencyID string) ([]Stop, error) {
	rows, err := q.db.QueryContext(ctx, listStops, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var items []Stop
	for rows.Next() {
		var s Stop
		if err := rows.Scan(&s.ID, &s.AgencyID, &s.Code, &s.Name, &s.Lat, &s.Lon); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
