package reconcile

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"reconciler.transitchat.org/gtfsdb"
	"reconciler.transitchat.org/internal/appconf"
	"reconciler.transitchat.org/internal/metrics"
	"reconciler.transitchat.org/internal/models"
)

const testAgencyID = "stlouis"

func testAgency() models.AgencyConfig {
	return models.AgencyConfig{
		ID:          testAgencyID,
		Name:        "Metro Transit",
		Timezone:    "America/Chicago",
		ExcludeList: []string{"MetroLink Red Line"},
		Updates:     models.UpdateKinds{Vehicles: true},
	}
}

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New()
}

// newStoreWithSchedule seeds an in-memory schedule store:
//
//	route R1 "90 / Hampton Loop" (bus) with trips T1, T2 on service WEEK
//	route RT "MetroLink Red Line" (subway) with trip TR on service WEEK
//	service WEEK runs every day of 2020-2030
//	T1 stops at 08:00 and 08:10; T2 at 08:25 and 08:30; TR at 08:30
//	overnight trip T9 arrives at 25:00, stretching the service day
func newStoreWithSchedule(t *testing.T) *gtfsdb.Client {
	t.Helper()

	store, err := gtfsdb.NewClient(gtfsdb.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	q := store.Queries

	require.NoError(t, q.CreateRoute(ctx, gtfsdb.CreateRouteParams{
		ID: "R1", AgencyID: testAgencyID,
		ShortName: nullStr("90"), LongName: nullStr("Hampton Loop"), Type: 3,
	}))
	require.NoError(t, q.CreateRoute(ctx, gtfsdb.CreateRouteParams{
		ID: "RT", AgencyID: testAgencyID,
		ShortName: nullStr("MLR"), LongName: nullStr("MetroLink Red Line"), Type: 1,
	}))

	require.NoError(t, q.CreateCalendar(ctx, gtfsdb.CreateCalendarParams{
		ServiceID: "WEEK", AgencyID: testAgencyID,
		Monday: 1, Tuesday: 1, Wednesday: 1, Thursday: 1, Friday: 1, Saturday: 1, Sunday: 1,
		StartDate: "20200101", EndDate: "20301231",
	}))

	trips := []gtfsdb.CreateTripParams{
		{ID: "T1", AgencyID: testAgencyID, RouteID: "R1", ServiceID: "WEEK", TripHeadsign: nullStr("Downtown")},
		{ID: "T2", AgencyID: testAgencyID, RouteID: "R1", ServiceID: "WEEK", TripHeadsign: nullStr("Grand")},
		{ID: "TR", AgencyID: testAgencyID, RouteID: "RT", ServiceID: "WEEK", TripHeadsign: nullStr("Airport")},
		{ID: "T9", AgencyID: testAgencyID, RouteID: "R1", ServiceID: "WEEK", TripHeadsign: nullStr("Owl")},
	}
	for _, trip := range trips {
		require.NoError(t, q.CreateTrip(ctx, trip))
	}

	addStopTime(t, store, "T1", "S1", 1, 8*3600)
	addStopTime(t, store, "T1", "S2", 2, 8*3600+600)
	addStopTime(t, store, "T2", "S1", 1, 8*3600+1500)
	addStopTime(t, store, "T2", "S2", 2, 8*3600+1800)
	addStopTime(t, store, "TR", "S1", 1, 8*3600+1800)
	addStopTime(t, store, "T9", "S1", 1, 25*3600)

	return store
}

func calendarDate(serviceID, date string, exceptionType int64) gtfsdb.CreateCalendarDateParams {
	return gtfsdb.CreateCalendarDateParams{
		ServiceID:     serviceID,
		AgencyID:      testAgencyID,
		Date:          date,
		ExceptionType: exceptionType,
	}
}

func addStopTime(t *testing.T, store *gtfsdb.Client, tripID, stopID string, seq, arrival int64) {
	t.Helper()
	_, err := store.DB.ExecContext(context.Background(), `
		INSERT INTO stop_times (
			trip_id, agency_id, arrival_time, departure_time,
			arrival_timestamp, departure_timestamp, stop_id, stop_sequence
		) VALUES (?, ?, '', '', ?, ?, ?, ?)`,
		tripID, testAgencyID, arrival, arrival, stopID, seq)
	require.NoError(t, err)
}

// vehicleEntity builds a complete vehicle-position entity; tests mutate
// the returned entity to remove fields.
func vehicleEntity(tripID, vehicleID string, lon, lat float32, direction uint32, timestamp uint64) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{
		Id: proto.String("v-" + vehicleID),
		Vehicle: &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{
				TripId:      proto.String(tripID),
				DirectionId: proto.Uint32(direction),
			},
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id: proto.String(vehicleID),
			},
			Position: &gtfsrtpb.Position{
				Longitude: proto.Float32(lon),
				Latitude:  proto.Float32(lat),
			},
			Timestamp: proto.Uint64(timestamp),
		},
	}
}

func tripUpdateEntity(tripID string, delay int32, startTime string, stus ...*gtfsrtpb.TripUpdate_StopTimeUpdate) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{
		Id: proto.String("tu-" + tripID),
		TripUpdate: &gtfsrtpb.TripUpdate{
			Trip: &gtfsrtpb.TripDescriptor{
				TripId:    proto.String(tripID),
				StartTime: proto.String(startTime),
			},
			Delay:          proto.Int32(delay),
			StopTimeUpdate: stus,
		},
	}
}

func stu(stopID string, seq uint32, departureDelay int32, departureTime int64) *gtfsrtpb.TripUpdate_StopTimeUpdate {
	return &gtfsrtpb.TripUpdate_StopTimeUpdate{
		StopId:       proto.String(stopID),
		StopSequence: proto.Uint32(seq),
		Departure: &gtfsrtpb.TripUpdate_StopTimeEvent{
			Delay: proto.Int32(departureDelay),
			Time:  proto.Int64(departureTime),
		},
	}
}
