package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func newTestRedis(t *testing.T, max int) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedis(Config{MaxEntries: max, Redis: &RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	return store
}

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := NewSQLite(newTestSQLiteDB(t))
	require.NoError(t, err)

	return map[string]Store{
		DriverMemory: NewMemory(Config{}),
		DriverSQLite: sqliteStore,
		DriverRedis:  newTestRedis(t, 0),
	}
}

func diagnoses(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Diagnosis
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for name, store := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			t.Cleanup(func() { _ = store.Close() })

			base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
			for i := 0; i < 12; i++ {
				user := "farmer@cattle.com"
				if i%3 == 0 {
					user = "admin@cattle.com"
				}
				require.NoError(t, store.Append(ctx, Entry{
					UserEmail:  user,
					UserName:   "name",
					Timestamp:  base.Add(time.Duration(i) * time.Minute),
					BodyPart:   "udder",
					Diagnosis:  fmt.Sprintf("d%02d", i),
					Confidence: 0.5,
					Status:     "DISEASE",
				}))
			}

			mine, err := store.ListByUser(ctx, "farmer@cattle.com", 5)
			require.NoError(t, err)
			assert.Equal(t, []string{"d05", "d07", "d08", "d10", "d11"}, diagnoses(mine))
			for _, e := range mine {
				assert.NotEmpty(t, e.ID)
				assert.Equal(t, "farmer@cattle.com", e.UserEmail)
			}

			admin, err := store.ListByUser(ctx, "admin@cattle.com", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"d00", "d03", "d06", "d09"}, diagnoses(admin))

			recent, err := store.Recent(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, []string{"d09", "d10", "d11"}, diagnoses(recent))
			assert.True(t, recent[2].Timestamp.Equal(base.Add(11*time.Minute)))

			none, err := store.ListByUser(ctx, "nobody@cattle.com", 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Append(ctx, Entry{UserEmail: fmt.Sprintf("u%d@cattle.com", i%5)}))
			_, err := store.Recent(ctx, 10)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 50)

	ids := make(map[string]struct{}, len(all))
	for _, e := range all {
		ids[e.ID] = struct{}{}
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Len(t, ids, 50)
}

func TestMemoryStore_MaxEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{MaxEntries: 3})
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, Entry{UserEmail: "a@b.c", Diagnosis: fmt.Sprint(i)}))
	}
	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, diagnoses(all))
}

func TestMemoryStore_RingKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{MaxEntries: 4})
	for i := 0; i < 11; i++ {
		email := "a@b.c"
		if i%2 == 1 {
			email = "x@y.z"
		}
		require.NoError(t, store.Append(ctx, Entry{UserEmail: email, Diagnosis: fmt.Sprint(i)}))
	}

	mem := store.(*memoryStore)
	assert.Len(t, mem.entries, 4)

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8", "9", "10"}, diagnoses(all))

	last, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "10"}, diagnoses(last))

	mine, err := store.ListByUser(ctx, "a@b.c", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"8", "10"}, diagnoses(mine))

	all[0].Diagnosis = "mutated"
	again, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "7", again[0].Diagnosis)
}

func TestRedisStore_MaxEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestRedis(t, 2)
	t.Cleanup(func() { _ = store.Close() })

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Append(ctx, Entry{UserEmail: "a@b.c", Diagnosis: fmt.Sprint(i)}))
	}
	all, err := store.ListByUser(ctx, "a@b.c", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, diagnoses(all))
}

func TestNew(t *testing.T) {
	store, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &memoryStore{}, store)

	_, err = New(Config{Driver: "cassandra"})
	assert.Error(t, err)

	_, err = New(Config{Driver: DriverSQLite})
	assert.Error(t, err)

	_, err = New(Config{Driver: DriverRedis})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	store, err = New(Config{Driver: DriverRedis, Redis: &RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
