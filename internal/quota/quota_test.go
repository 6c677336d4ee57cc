package quota

import (
	"context"
	"errors"
	"icarus/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	global  *models.CounterRecord
	users   models.UserCounters
	saveErr error
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) LoadGlobal(ctx context.Context) (*models.CounterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.global == nil {
		return nil, nil
	}
	rec := *m.global
	return &rec, nil
}

func (m *memStore) SaveGlobal(ctx context.Context, rec models.CounterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.global = &rec
	return nil
}

func (m *memStore) LoadUser(ctx context.Context, sessionID string) (*models.CounterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) SaveUser(ctx context.Context, sessionID string, rec models.CounterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.users == nil {
		m.users = models.UserCounters{}
	}
	m.users[sessionID] = rec
	return nil
}

func fixedClock(day string) func() time.Time {
	return func() time.Time {
		ts, err := time.Parse(DateLayout, day)
		if err != nil {
			panic(err)
		}
		return ts.Add(15 * time.Hour)
	}
}

func TestCheckLimits(t *testing.T) {
	const globalLimit, userLimit = 24, 3

	for g := 0; g <= globalLimit+1; g++ {
		for u := 0; u <= userLimit+1; u++ {
			d := CheckLimits(g, u, globalLimit, userLimit)
			switch {
			case g >= globalLimit:
				assert.False(t, d.Allowed, "g=%d u=%d", g, u)
				assert.Equal(t, ReasonDailyLimit, d.Reason, "g=%d u=%d", g, u)
			case u >= userLimit:
				assert.False(t, d.Allowed, "g=%d u=%d", g, u)
				assert.Equal(t, ReasonSessionLimit, d.Reason, "g=%d u=%d", g, u)
			default:
				assert.True(t, d.Allowed, "g=%d u=%d", g, u)
				assert.Equal(t, ReasonNone, d.Reason)
				assert.Empty(t, d.Message())
			}
		}
	}
}

func TestCheckLimitsScenarios(t *testing.T) {
	tests := []struct {
		name        string
		globalCount int
		userCount   int
		wantReason  Reason
		wantMessage string
	}{
		{
			name:        "global limit reached regardless of user count",
			globalCount: 24,
			userCount:   0,
			wantReason:  ReasonDailyLimit,
			wantMessage: "Daily limit for generated images reached. Please try again tomorrow.",
		},
		{
			name:        "global limit wins over session limit",
			globalCount: 24,
			userCount:   3,
			wantReason:  ReasonDailyLimit,
			wantMessage: "Daily limit for generated images reached. Please try again tomorrow.",
		},
		{
			name:        "session limit reached",
			globalCount: 0,
			userCount:   3,
			wantReason:  ReasonSessionLimit,
			wantMessage: "You have reached the limit of generated images for this session.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := CheckLimits(tc.globalCount, tc.userCount, 24, 3)
			assert.False(t, d.Allowed)
			assert.Equal(t, tc.wantReason, d.Reason)
			assert.Equal(t, tc.wantMessage, d.Message())
		})
	}
}

func TestResetIfStale(t *testing.T) {
	stale := models.CounterRecord{Date: "2026-10-13", Count: 5}

	once := ResetIfStale(stale, "2026-10-14")
	assert.Equal(t, models.CounterRecord{Date: "2026-10-14", Count: 0}, once)

	twice := ResetIfStale(once, "2026-10-14")
	assert.Equal(t, once, twice)

	current := models.CounterRecord{Date: "2026-10-14", Count: 2}
	assert.Equal(t, current, ResetIfStale(current, "2026-10-14"))
}

func TestIncrement(t *testing.T) {
	rec := Increment(models.CounterRecord{Date: "2026-10-14", Count: 2})
	assert.Equal(t, 3, rec.Count)
	assert.Equal(t, "2026-10-14", rec.Date)
}

func TestServiceBegin(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultsWhenEmpty", func(t *testing.T) {
		store := &memStore{}
		svc := NewService(store, 24, 3, WithClock(fixedClock("2026-10-14")))

		usage, err := svc.Begin(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, Usage{Date: "2026-10-14", GlobalLimit: 24, UserLimit: 3}, usage)
		assert.True(t, usage.Decision().Allowed)

		require.NotNil(t, store.global)
		assert.Equal(t, models.CounterRecord{Date: "2026-10-14"}, *store.global)
		assert.Equal(t, models.UserCounters{"sess-1": {Date: "2026-10-14"}}, store.users)
	})

	t.Run("ResetsStaleRecords", func(t *testing.T) {
		store := &memStore{
			global: &models.CounterRecord{Date: "2026-10-13", Count: 24},
			users: models.UserCounters{
				"sess-1": {Date: "2026-10-13", Count: 3},
				"other":  {Date: "2026-10-13", Count: 1},
			},
		}
		svc := NewService(store, 24, 3, WithClock(fixedClock("2026-10-14")))

		usage, err := svc.Begin(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 0, usage.GlobalCount)
		assert.Equal(t, 0, usage.UserCount)
		assert.Equal(t, models.CounterRecord{Date: "2026-10-14"}, *store.global)
		assert.Equal(t, models.CounterRecord{Date: "2026-10-14"}, store.users["sess-1"])
		assert.Equal(t, models.CounterRecord{Date: "2026-10-13", Count: 1}, store.users["other"], "other sessions reset on their own read")
	})

	t.Run("KeepsCurrentRecords", func(t *testing.T) {
		store := &memStore{
			global: &models.CounterRecord{Date: "2026-10-14", Count: 24},
			users:  models.UserCounters{"sess-1": {Date: "2026-10-14", Count: 1}},
		}
		svc := NewService(store, 24, 3, WithClock(fixedClock("2026-10-14")))

		usage, err := svc.Begin(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 24, usage.GlobalCount)
		assert.Equal(t, 1, usage.UserCount)
		assert.Equal(t, Decision{Reason: ReasonDailyLimit}, usage.Decision())
	})

	t.Run("SaveFailure", func(t *testing.T) {
		store := &memStore{saveErr: errors.New("disk full")}
		svc := NewService(store, 24, 3)

		_, err := svc.Begin(ctx, "sess-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, store.saveErr)
	})
}

func TestServiceRecordSuccess(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc := NewService(store, 24, 3, WithClock(fixedClock("2026-10-14")))

	_, err := svc.Begin(ctx, "sess-1")
	require.NoError(t, err)

	usage, err := svc.RecordSuccess(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.GlobalCount)
	assert.Equal(t, 1, usage.UserCount)

	usage, err = svc.RecordSuccess(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, 2, usage.GlobalCount)
	assert.Equal(t, 1, usage.UserCount)

	for i := 0; i < 2; i++ {
		usage, err = svc.RecordSuccess(ctx, "sess-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, usage.UserCount)
	assert.Equal(t, Decision{Reason: ReasonSessionLimit}, usage.Decision())

	assert.Equal(t, 4, store.global.Count)
	assert.Equal(t, 3, store.users["sess-1"].Count)
	assert.Equal(t, 1, store.users["sess-2"].Count)
}

func TestServiceRecordSuccessAcrossDays(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	day := "2026-10-14"
	svc := NewService(store, 24, 3, WithClock(func() time.Time { return fixedClock(day)() }))

	_, err := svc.RecordSuccess(ctx, "sess-1")
	require.NoError(t, err)

	day = "2026-10-15"
	usage, err := svc.RecordSuccess(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", usage.Date)
	assert.Equal(t, 1, usage.GlobalCount)
	assert.Equal(t, 1, usage.UserCount)
}

func TestServiceSerializesUpdates(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc := NewService(store, 1000, 1000)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSuccess(ctx, "shared-session")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, store.global.Count)
	assert.Equal(t, workers, store.users["shared-session"].Count)
}
