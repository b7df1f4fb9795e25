// Package reconcile matches live GTFS-RT feeds against the static schedule
// and assembles per-agency snapshots: enriched vehicle positions, missing
// scheduled trips, and stop-level delay records.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reconciler.transitchat.org/gtfsdb"
	"reconciler.transitchat.org/internal/clock"
	"reconciler.transitchat.org/internal/models"
)

// ErrContextUnavailable means the schedule context could not be resolved.
// The agency's pass must be skipped; reconciling against a guessed service
// day would misclassify every trip.
var ErrContextUnavailable = errors.New("schedule context unavailable")

// ScheduleContext fixes the service day a reconciliation pass operates in.
type ScheduleContext struct {
	// ServiceDate is local midnight of the resolved service day, which is
	// yesterday's date while post-midnight trips from that day still run.
	ServiceDate time.Time
	// SecondsAfterMidnight counts from the resolved service day's midnight,
	// so it exceeds 86400 when the service day is yesterday.
	SecondsAfterMidnight int64
	// ActiveServiceIDs is the set of service ids running on ServiceDate.
	ActiveServiceIDs []string
}

// ContextResolver resolves the active service day and services for an
// agency at the current wall-clock time.
type ContextResolver struct {
	queries *gtfsdb.Queries
	clock   clock.Clock
	logger  *slog.Logger
}

func NewContextResolver(queries *gtfsdb.Queries, clk clock.Clock, logger *slog.Logger) *ContextResolver {
	return &ContextResolver{queries: queries, clock: clk, logger: logger}
}

const secondsPerDay = 24 * 60 * 60

// Resolve determines the agency's service day and active services.
//
// The schedule's latest arrival decides whether a pass shortly after
// midnight still belongs to yesterday's service day: while the local
// time-of-day is before (maxArrival - 24h), yesterday's overnight trips
// are still running and the pass reconciles against yesterday.
func (r *ContextResolver) Resolve(ctx context.Context, agency models.AgencyConfig) (ScheduleContext, error) {
	loc, err := agency.Location()
	if err != nil {
		return ScheduleContext{}, fmt.Errorf("%w: %v", ErrContextUnavailable, err)
	}

	localNow := r.clock.Now().In(loc)
	todayMidnight := clock.Midnight(localNow)
	secondsToday := int64(localNow.Sub(todayMidnight) / time.Second)

	maxArrival, err := r.queries.GetMaxArrivalTime(ctx, agency.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return ScheduleContext{}, fmt.Errorf("%w: agency %s has no stop times", ErrContextUnavailable, agency.ID)
		}
		return ScheduleContext{}, fmt.Errorf("%w: %v", ErrContextUnavailable, err)
	}

	serviceDate := todayMidnight
	secondsAfterMidnight := secondsToday
	if maxArrival.ArrivalTimestamp > secondsPerDay && secondsToday < maxArrival.ArrivalTimestamp-secondsPerDay {
		serviceDate = todayMidnight.AddDate(0, 0, -1)
		secondsAfterMidnight = secondsToday + secondsPerDay
	}

	date := serviceDate.Format("20060102")

	// Explicit calendar exceptions govern the date exclusively when present.
	serviceIDs, err := r.queries.GetCalendarDateServiceIDs(ctx, agency.ID, date)
	if err != nil {
		return ScheduleContext{}, fmt.Errorf("%w: %v", ErrContextUnavailable, err)
	}
	if len(serviceIDs) == 0 {
		serviceIDs, err = r.queries.GetCalendarServiceIDs(ctx, agency.ID, date, serviceDate.Weekday())
		if err != nil {
			return ScheduleContext{}, fmt.Errorf("%w: %v", ErrContextUnavailable, err)
		}
	}

	r.logger.Debug("resolved schedule context",
		slog.String("agency_id", agency.ID),
		slog.String("service_date", date),
		slog.Bool("yesterday", !serviceDate.Equal(todayMidnight)),
		slog.Int64("seconds_after_midnight", secondsAfterMidnight),
		slog.Int("active_services", len(serviceIDs)))

	return ScheduleContext{
		ServiceDate:          serviceDate,
		SecondsAfterMidnight: secondsAfterMidnight,
		ActiveServiceIDs:     serviceIDs,
	}, nil
}
