package rtfeed

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func marshalFeed(t *testing.T, entities ...*gtfsrtpb.FeedEntity) []byte {
	t.Helper()
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
		},
		Entity: entities,
	}
	data, err := proto.Marshal(fm)
	require.NoError(t, err)
	return data
}

func TestDecode(t *testing.T) {
	data := marshalFeed(t,
		&gtfsrtpb.FeedEntity{
			Id: proto.String("1"),
			Vehicle: &gtfsrtpb.VehiclePosition{
				Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("T1")},
			},
		},
		&gtfsrtpb.FeedEntity{
			Id: proto.String("2"),
			TripUpdate: &gtfsrtpb.TripUpdate{
				Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("T2")},
			},
		},
	)

	entities, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "T1", entities[0].GetVehicle().GetTrip().GetTripId())
	assert.Equal(t, "T2", entities[1].GetTripUpdate().GetTrip().GetTripId())
}

func TestDecodeEmptyFeed(t *testing.T) {
	entities, err := Decode(marshalFeed(t))
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xfe, 0xfd, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFetchEntities(t *testing.T) {
	data := marshalFeed(t, &gtfsrtpb.FeedEntity{
		Id: proto.String("1"),
		Vehicle: &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("T1")},
		},
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	client := NewClient(0, slog.Default())
	entities, err := client.FetchEntities(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "T1", entities[0].GetVehicle().GetTrip().GetTripId())
}

func TestFetchEntitiesEmptyURL(t *testing.T) {
	client := NewClient(0, slog.Default())
	entities, err := client.FetchEntities(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, entities)
}

func TestFetchEntitiesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(0, slog.Default())
	_, err := client.FetchEntities(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestFetchEntitiesCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(1, slog.Default())
	_, err := client.FetchEntities(ctx, "http://example.invalid/feed.pb")
	assert.Error(t, err)
}
