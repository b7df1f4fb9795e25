package reconcile

import (
	"testing"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchTripPrimary(t *testing.T) {
	feed := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("OTHER", 50, "07:00:00", stu("S9", 1, 50, 1000)),
		tripUpdateEntity("T1", 310, "08:00:00",
			stu("S1", 1, 310, 2000),
			stu("S2", 2, 320, 3000)),
	}

	result := MatchTrip("T1", feed, nil)
	require.True(t, result.Usable())
	assert.Equal(t, "S1", result.StopID)
	assert.Equal(t, 1, result.StopSequence)
	require.NotNil(t, result.Delay)
	assert.Equal(t, int32(310), *result.Delay)
	assert.Equal(t, "08:00:00", result.StartTime)
	require.Len(t, result.StopTimeUpdates, 2)
	assert.Equal(t, "S2", result.StopTimeUpdates[1].StopID)
	require.NotNil(t, result.StopTimeUpdates[1].Delay)
	assert.Equal(t, int32(320), *result.StopTimeUpdates[1].Delay)
}

func TestMatchTripPrimaryWinsOverFallback(t *testing.T) {
	// A fallback candidate precedes the exact match in feed order; the
	// exact match must still win.
	candidates := map[string]struct{}{"CAND": {}, "T1": {}}
	feed := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("CAND", 90, "07:30:00", stu("S8", 4, 90, 500)),
		tripUpdateEntity("T1", 120, "08:00:00", stu("S1", 1, 120, 600)),
	}

	result := MatchTrip("T1", feed, candidates)
	require.True(t, result.Usable())
	assert.Equal(t, "S1", result.StopID)
	assert.Equal(t, int32(120), *result.Delay)
}

func TestMatchTripFallback(t *testing.T) {
	candidates := map[string]struct{}{"CAND": {}}
	feed := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("UNRELATED", 10, "06:00:00", stu("S7", 1, 10, 100)),
		tripUpdateEntity("CAND", 90, "07:30:00",
			stu("S8", 4, 90, 500),
			stu("S9", 5, 95, 600)),
	}

	result := MatchTrip("T1", feed, candidates)
	require.True(t, result.Usable())
	assert.Equal(t, "S8", result.StopID)
	assert.Equal(t, 4, result.StopSequence)
	assert.Equal(t, int32(90), *result.Delay)
	// fallback only trusts the leading stop-time update
	require.Len(t, result.StopTimeUpdates, 1)
	assert.Equal(t, "S8", result.StopTimeUpdates[0].StopID)
}

func TestMatchTripFallbackTakesFirstCandidateInFeedOrder(t *testing.T) {
	candidates := map[string]struct{}{"A": {}, "B": {}}
	feed := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("B", 40, "07:00:00", stu("SB", 1, 40, 100)),
		tripUpdateEntity("A", 60, "07:10:00", stu("SA", 1, 60, 200)),
	}

	result := MatchTrip("T1", feed, candidates)
	require.True(t, result.Usable())
	assert.Equal(t, "SB", result.StopID)
}

func TestMatchTripNoMatch(t *testing.T) {
	feed := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("OTHER", 50, "07:00:00", stu("S9", 1, 50, 1000)),
	}

	result := MatchTrip("T1", feed, map[string]struct{}{"NOPE": {}})
	assert.False(t, result.Usable())
	assert.Nil(t, result.Delay)
	assert.Empty(t, result.StopTimeUpdates)
}

func TestMatchTripIgnoresEmptyStopTimeSequences(t *testing.T) {
	feed := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("T1", 30, "08:00:00"), // no stop time updates
	}

	result := MatchTrip("T1", feed, nil)
	assert.False(t, result.Usable())
}

func TestMatchTripMissingDepartureEvent(t *testing.T) {
	noDeparture := &gtfsrtpb.TripUpdate_StopTimeUpdate{
		StopId: stringPtr("S1"),
	}
	feed := []*gtfsrtpb.FeedEntity{
		{
			TripUpdate: &gtfsrtpb.TripUpdate{
				Trip:           &gtfsrtpb.TripDescriptor{TripId: stringPtr("T1")},
				Delay:          int32Ptr(15),
				StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{noDeparture},
			},
		},
	}

	result := MatchTrip("T1", feed, nil)
	require.Len(t, result.StopTimeUpdates, 1)
	assert.Nil(t, result.StopTimeUpdates[0].Delay)
	assert.Nil(t, result.StopTimeUpdates[0].Time)
}

func stringPtr(s string) *string { return &s }
func int32Ptr(v int32) *int32    { return &v }
