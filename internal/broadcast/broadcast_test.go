package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracknow/internal/location"
	"tracknow/internal/models"
	"tracknow/internal/testdb"
)

func TestSubjects(t *testing.T) {
	tests := []struct {
		in, location, message string
	}{
		{in: "7f7c1e0a-42", location: "locations.7f7c1e0a-42", message: "messages.7f7c1e0a-42"},
		{in: " a.b *c> ", location: "locations.a_b__c_", message: "messages.a_b__c_"},
		{in: "", location: "locations._", message: "messages._"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.location, LocationSubject(tc.in))
		assert.Equal(t, tc.message, MessageSubject(tc.in))
	}
}

type recordingBroadcaster struct {
	locations []models.DriverLocation
	err       error
}

func (r *recordingBroadcaster) PublishLocation(loc models.DriverLocation) error {
	r.locations = append(r.locations, loc)
	return r.err
}

func (r *recordingBroadcaster) PublishMessage(models.DriverMessage) error { return r.err }

func TestSink_BroadcastsAppliedWritesOnly(t *testing.T) {
	store := location.NewStore(testdb.Open(t))
	b := &recordingBroadcaster{}
	sink := NewSink(store, b)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	applied, err := sink.Upsert(ctx, "driver-1", location.Sample{Latitude: 13, Longitude: 80, RecordedAt: t1})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = sink.Upsert(ctx, "driver-1", location.Sample{Latitude: 12, Longitude: 79, RecordedAt: t1.Add(-time.Minute)})
	require.NoError(t, err)
	assert.False(t, applied)

	require.Len(t, b.locations, 1)
	assert.Equal(t, "driver-1", b.locations[0].DriverID)
	assert.Equal(t, 13.0, b.locations[0].Latitude)
}

func TestSink_BroadcastFailureDoesNotFailWrite(t *testing.T) {
	store := location.NewStore(testdb.Open(t))
	sink := NewSink(store, &recordingBroadcaster{err: errors.New("nats: connection closed")})

	applied, err := sink.Upsert(context.Background(), "driver-1", location.Sample{Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = store.Latest(context.Background(), "driver-1")
	assert.NoError(t, err)
}

func TestSink_ValidationPassesThrough(t *testing.T) {
	b := &recordingBroadcaster{}
	sink := NewSink(location.NewStore(testdb.Open(t)), b)
	_, err := sink.Upsert(context.Background(), "", location.Sample{})
	assert.Error(t, err)
	assert.Empty(t, b.locations)
}

func TestNoop(t *testing.T) {
	var b Broadcaster = Noop{}
	assert.NoError(t, b.PublishLocation(models.DriverLocation{}))
	assert.NoError(t, b.PublishMessage(models.DriverMessage{}))
}
