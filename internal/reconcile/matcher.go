package reconcile

import (
	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"

	"reconciler.transitchat.org/internal/models"
)

// TripMatchResult is the normalized outcome of matching one trip id
// against the trip-update feed. The zero value means no usable match.
type TripMatchResult struct {
	StopID          string
	StopSequence    int
	Delay           *int32
	StartTime       string
	StopTimeUpdates []models.StopTimeUpdate
}

// Usable reports whether the match carries enough prediction data to
// enrich a vehicle. A result without a delay or without stop-time updates
// is treated as no match.
func (r TripMatchResult) Usable() bool {
	return r.Delay != nil && len(r.StopTimeUpdates) > 0
}

// MatchTrip finds the trip-update entity describing tripID.
//
// The primary strategy requires exact trip-id equality and at least one
// stop-time update. When no exact match exists, the fallback accepts the
// first entity (in feed order; feeds carry no reliable recency ordering)
// whose trip id belongs to candidateTripIDs, tolerating feeds where a
// vehicle's declared trip id transiently disagrees with the trip-update
// feed for the same run. No match at all yields the zero result, never an
// error: one ambiguous trip must not abort the rest of the pass.
func MatchTrip(tripID string, tripUpdates []*gtfsrtpb.FeedEntity, candidateTripIDs map[string]struct{}) TripMatchResult {
	for _, entity := range tripUpdates {
		tu := entity.GetTripUpdate()
		if tu == nil || tu.GetTrip().GetTripId() != tripID {
			continue
		}
		stus := tu.GetStopTimeUpdate()
		if len(stus) == 0 {
			continue
		}
		return resultFromUpdate(tu, stus)
	}

	for _, entity := range tripUpdates {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		if _, ok := candidateTripIDs[tu.GetTrip().GetTripId()]; !ok {
			continue
		}
		stus := tu.GetStopTimeUpdate()
		if len(stus) == 0 {
			continue
		}
		// The fallback only trusts the leading stop-time update.
		return resultFromUpdate(tu, stus[:1])
	}

	return TripMatchResult{}
}

func resultFromUpdate(tu *gtfsrtpb.TripUpdate, stus []*gtfsrtpb.TripUpdate_StopTimeUpdate) TripMatchResult {
	first := stus[0]
	return TripMatchResult{
		StopID:          first.GetStopId(),
		StopSequence:    int(first.GetStopSequence()),
		Delay:           copyInt32(tu.Delay),
		StartTime:       tu.GetTrip().GetStartTime(),
		StopTimeUpdates: mapStopTimeUpdates(stus),
	}
}

func mapStopTimeUpdates(stus []*gtfsrtpb.TripUpdate_StopTimeUpdate) []models.StopTimeUpdate {
	mapped := make([]models.StopTimeUpdate, 0, len(stus))
	for _, stu := range stus {
		var delay *int32
		var predicted *int64
		if dep := stu.GetDeparture(); dep != nil {
			delay = copyInt32(dep.Delay)
			predicted = copyInt64(dep.Time)
		}
		mapped = append(mapped, models.StopTimeUpdate{
			StopID:       stu.GetStopId(),
			StopSequence: int(stu.GetStopSequence()),
			Delay:        delay,
			Time:         predicted,
		})
	}
	return mapped
}

func copyInt32(p *int32) *int32 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
