package location

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracknow/internal/apperr"
	"tracknow/internal/testdb"
)

func TestStore_UpsertLatestWins(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Second)
	first := Sample{Latitude: 13.01, Longitude: 80.01, RecordedAt: t1}
	second := Sample{Latitude: 13.02, Longitude: 80.02, RecordedAt: t2}

	tests := []struct {
		name   string
		writes []Sample
		expect []bool
	}{
		{name: "in order", writes: []Sample{first, second}, expect: []bool{true, true}},
		{name: "newer arrives first", writes: []Sample{second, first}, expect: []bool{true, false}},
		{name: "duplicate timestamp", writes: []Sample{second, second}, expect: []bool{true, false}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := NewStore(testdb.Open(t))
			ctx := context.Background()

			for i, w := range tc.writes {
				applied, err := store.Upsert(ctx, "driver-1", w)
				require.NoError(t, err)
				assert.Equal(t, tc.expect[i], applied, "write %d", i)
			}

			loc, err := store.Latest(ctx, "driver-1")
			require.NoError(t, err)
			assert.Equal(t, 13.02, loc.Latitude)
			assert.Equal(t, 80.02, loc.Longitude)
			assert.True(t, loc.RecordedAt.Equal(t2))
		})
	}
}

func TestStore_UpsertKeepsOneRowPerDriver(t *testing.T) {
	db := testdb.Open(t)
	store := NewStore(db)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := store.Upsert(ctx, "driver-1", Sample{Latitude: 13, Longitude: 80, RecordedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	_, err := store.Upsert(ctx, "driver-2", Sample{Latitude: 12, Longitude: 79, RecordedAt: base})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Table("driver_locations").Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestStore_UpsertDefaultsTimestamp(t *testing.T) {
	store := NewStore(testdb.Open(t))
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	applied, err := store.Upsert(context.Background(), "driver-1", Sample{Latitude: 1, Longitude: 2})
	require.NoError(t, err)
	assert.True(t, applied)

	loc, err := store.Latest(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.True(t, loc.RecordedAt.Equal(now))
	assert.True(t, loc.UpdatedAt.Equal(now))
}

func TestStore_UpsertValidation(t *testing.T) {
	store := NewStore(testdb.Open(t))
	ctx := context.Background()

	_, err := store.Upsert(ctx, "", Sample{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = store.Upsert(ctx, "driver-1", Sample{Latitude: 91, Longitude: 0})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestStore_LatestNotAvailable(t *testing.T) {
	_, err := NewStore(testdb.Open(t)).Latest(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotAvailable)
}
