package gtfsdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"github.com/twpayne/go-polyline"

	"reconciler.transitchat.org/internal/logging"
)

// processAndStoreGTFSData imports a parsed static GTFS feed for one agency.
// Existing rows of the agency are cleared and reinserted inside per-table
// transactions; an unchanged feed (same hash and source) is skipped.
func (c *Client) processAndStoreGTFSData(ctx context.Context, agencyID string, b []byte, source string, exclude []string) error {
	logger := slog.Default().With(
		slog.String("component", "gtfs_importer"),
		slog.String("agency_id", agencyID))

	startTime := time.Now()
	defer func() {
		c.importRuntime = time.Since(startTime)

		logging.LogOperation(logger, "gtfs_data_import_completed",
			slog.Duration("duration", c.importRuntime),
			slog.String("source", source))
	}()

	hash := sha256.Sum256(b)
	hashStr := hex.EncodeToString(hash[:])

	existingMetadata, err := c.Queries.GetImportMetadata(ctx, agencyID)
	if err == nil {
		if existingMetadata.FileHash == hashStr && existingMetadata.FileSource == source {
			logging.LogOperation(logger, "gtfs_data_unchanged_skipping_import",
				slog.String("hash", hashStr[:8]))
			return c.RebuildStopIndex(ctx, agencyID)
		}
		logging.LogOperation(logger, "gtfs_data_changed_reimporting",
			slog.String("old_hash", existingMetadata.FileHash[:8]),
			slog.String("new_hash", hashStr[:8]))
		if err := c.Queries.ClearAgencyData(ctx, agencyID); err != nil {
			return fmt.Errorf("error clearing existing GTFS data: %w", err)
		}
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("error checking import metadata: %w", err)
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return err
	}

	logging.LogOperation(logger, "starting_database_import",
		slog.Int("warnings", len(staticData.Warnings)),
		slog.Int("agencies", len(staticData.Agencies)),
		slog.Int("routes", len(staticData.Routes)),
		slog.Int("stops", len(staticData.Stops)),
		slog.Int("trips", len(staticData.Trips)))

	for _, a := range staticData.Agencies {
		params := CreateAgencyParams{
			ID:       a.Id,
			Name:     a.Name,
			Url:      a.Url,
			Timezone: a.Timezone,
			Lang:     toNullString(a.Language),
			Phone:    toNullString(a.Phone),
			FareUrl:  toNullString(a.FareUrl),
			Email:    toNullString(a.Email),
		}
		if err := c.Queries.CreateAgency(ctx, params); err != nil {
			return fmt.Errorf("unable to create agency: %w", err)
		}
	}

	err = c.insertRoutes(ctx, agencyID, staticData.Routes)
	if err != nil {
		return fmt.Errorf("unable to create routes: %w", err)
	}

	err = c.insertStops(ctx, agencyID, staticData.Stops)
	if err != nil {
		return fmt.Errorf("unable to create stops: %w", err)
	}

	err = c.insertServices(ctx, agencyID, staticData.Services)
	if err != nil {
		return fmt.Errorf("unable to create calendar: %w", err)
	}

	err = c.insertTrips(ctx, agencyID, staticData.Trips)
	if err != nil {
		return fmt.Errorf("unable to create trips: %w", err)
	}

	err = c.insertStopTimes(ctx, agencyID, staticData.Trips)
	if err != nil {
		return fmt.Errorf("unable to create stop times: %w", err)
	}

	if importExcluded(exclude, "shapes", "directions") {
		logging.LogOperation(logger, "skipping_shapes_import")
	} else {
		err = c.insertShapes(ctx, agencyID, staticData.Shapes)
		if err != nil {
			return fmt.Errorf("unable to create shapes: %w", err)
		}
	}

	err = c.Queries.UpsertImportMetadata(ctx, UpsertImportMetadataParams{
		AgencyID:   agencyID,
		FileHash:   hashStr,
		ImportTime: time.Now().Unix(),
		FileSource: source,
	})
	if err != nil {
		logging.LogError(logger, "Error updating import metadata", err)
		return fmt.Errorf("error updating import metadata: %w", err)
	}

	return c.RebuildStopIndex(ctx, agencyID)
}

func (c *Client) insertRoutes(ctx context.Context, agencyID string, routes []gtfs.Route) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_routes")

	qtx := c.Queries.WithTx(tx)
	for _, r := range routes {
		params := CreateRouteParams{
			ID:        r.Id,
			AgencyID:  agencyID,
			ShortName: toNullString(r.ShortName),
			LongName:  toNullString(r.LongName),
			Desc:      toNullString(r.Description),
			Type:      int64(r.Type),
			Color:     toNullString(r.Color),
			TextColor: toNullString(r.TextColor),
		}
		if err := qtx.CreateRoute(ctx, params); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Client) insertStops(ctx context.Context, agencyID string, stops []gtfs.Stop) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_stops")

	qtx := c.Queries.WithTx(tx)
	for _, s := range stops {
		// Stops without coordinates (generic nodes, boarding areas) would
		// contaminate the spatial index with (0,0) placeholders.
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		params := CreateStopParams{
			ID:       s.Id,
			AgencyID: agencyID,
			Code:     toNullString(s.Code),
			Name:     toNullString(s.Name),
			Lat:      *s.Latitude,
			Lon:      *s.Longitude,
		}
		if err := qtx.CreateStop(ctx, params); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Client) insertServices(ctx context.Context, agencyID string, services []gtfs.Service) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_calendar")

	qtx := c.Queries.WithTx(tx)
	for _, s := range services {
		params := CreateCalendarParams{
			ServiceID: s.Id,
			AgencyID:  agencyID,
			Monday:    boolToInt(s.Monday),
			Tuesday:   boolToInt(s.Tuesday),
			Wednesday: boolToInt(s.Wednesday),
			Thursday:  boolToInt(s.Thursday),
			Friday:    boolToInt(s.Friday),
			Saturday:  boolToInt(s.Saturday),
			Sunday:    boolToInt(s.Sunday),
			StartDate: s.StartDate.Format("20060102"),
			EndDate:   s.EndDate.Format("20060102"),
		}
		if err := qtx.CreateCalendar(ctx, params); err != nil {
			return err
		}

		for _, date := range s.AddedDates {
			if err := qtx.CreateCalendarDate(ctx, CreateCalendarDateParams{
				ServiceID:     s.Id,
				AgencyID:      agencyID,
				Date:          date.Format("20060102"),
				ExceptionType: 1,
			}); err != nil {
				return err
			}
		}
		for _, date := range s.RemovedDates {
			if err := qtx.CreateCalendarDate(ctx, CreateCalendarDateParams{
				ServiceID:     s.Id,
				AgencyID:      agencyID,
				Date:          date.Format("20060102"),
				ExceptionType: 2,
			}); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (c *Client) insertTrips(ctx context.Context, agencyID string, trips []gtfs.ScheduledTrip) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	logging.LogOperation(logger, "inserting_trips", slog.Int("count", len(trips)))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_trips")

	qtx := c.Queries.WithTx(tx)
	for _, t := range trips {
		var shapeID string
		if t.Shape != nil {
			shapeID = t.Shape.ID
		}
		params := CreateTripParams{
			ID:           t.ID,
			AgencyID:     agencyID,
			RouteID:      t.Route.Id,
			ServiceID:    t.Service.Id,
			TripHeadsign: toNullString(t.Headsign),
			DirectionID:  directionToNullInt64(t.DirectionId),
			BlockID:      toNullString(t.BlockID),
			ShapeID:      toNullString(shapeID),
		}
		if err := qtx.CreateTrip(ctx, params); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// insertStopTimes flattens trip stop times into multi-row INSERT batches
// inside a single transaction, deriving the seconds-after-midnight columns
// the reconciliation queries filter on.
func (c *Client) insertStopTimes(ctx context.Context, agencyID string, trips []gtfs.ScheduledTrip) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	total := 0
	for _, t := range trips {
		total += len(t.StopTimes)
	}
	logging.LogOperation(logger, "inserting_stop_times", slog.Int("count", total))

	const baseQuery = `INSERT INTO stop_times (
		trip_id, agency_id, arrival_time, departure_time,
		arrival_timestamp, departure_timestamp, stop_id, stop_sequence
	) VALUES `
	const fieldsPerRow = 8

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_stop_times")

	batchSize := c.config.GetBulkInsertBatchSize()
	var (
		query    = []byte(baseQuery)
		args     = make([]interface{}, 0, batchSize*fieldsPerRow)
		rowCount = 0
		inserted = 0
	)

	flush := func() error {
		if rowCount == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, string(query), args...); err != nil {
			return fmt.Errorf("failed to insert stop_times batch: %w", err)
		}
		inserted += rowCount
		query = query[:len(baseQuery)]
		args = args[:0]
		rowCount = 0
		return nil
	}

	for _, t := range trips {
		for _, st := range t.StopTimes {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			arrivalSecs := int64(st.ArrivalTime.Seconds())
			departureSecs := int64(st.DepartureTime.Seconds())

			if rowCount > 0 {
				query = append(query, ", "...)
			}
			query = append(query, "(?, ?, ?, ?, ?, ?, ?, ?)"...)
			args = append(args,
				t.ID,
				agencyID,
				formatGTFSTime(arrivalSecs),
				formatGTFSTime(departureSecs),
				arrivalSecs,
				departureSecs,
				st.Stop.Id,
				int64(st.StopSequence),
			)
			rowCount++

			if rowCount >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "stop_times_inserted", slog.Int("count", inserted))
	return nil
}

// insertShapes aggregates each shape's point sequence into one encoded
// polyline row.
func (c *Client) insertShapes(ctx context.Context, agencyID string, shapes []gtfs.Shape) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	logging.LogOperation(logger, "inserting_shapes", slog.Int("count", len(shapes)))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_shapes")

	qtx := c.Queries.WithTx(tx)
	for _, s := range shapes {
		coords := make([][]float64, 0, len(s.Points))
		for _, pt := range s.Points {
			coords = append(coords, []float64{pt.Latitude, pt.Longitude})
		}

		params := CreateShapeParams{
			ShapeID:    s.ID,
			AgencyID:   agencyID,
			Polyline:   string(polyline.EncodeCoords(coords)),
			PointCount: int64(len(s.Points)),
		}
		if err := qtx.CreateShape(ctx, params); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// formatGTFSTime renders seconds after midnight as GTFS HH:MM:SS. Hours
// exceed 24 for trips running past midnight.
func formatGTFSTime(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// importExcluded reports whether any of the given labels appears in the
// agency's exclude list. "directions" is the legacy label for shape data.
func importExcluded(exclude []string, labels ...string) bool {
	for _, e := range exclude {
		for _, l := range labels {
			if e == l {
				return true
			}
		}
	}
	return false
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func toNullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}

func directionToNullInt64(d gtfs.DirectionID) sql.NullInt64 {
	return sql.NullInt64{
		Int64: int64(d),
		Valid: true,
	}
}
