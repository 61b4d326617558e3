package settings

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsesettings/internal/metrics"
	"pulsesettings/internal/storage"
)

type fakeRepo struct {
	mu      sync.Mutex
	records map[int64]storage.Settings

	getErr    error
	addErr    error
	updateErr error
	// dropAdds accepts inserts without storing them.
	dropAdds bool

	gets, adds, updates int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: map[int64]storage.Settings{}}
}

func (f *fakeRepo) GetSettings(_ context.Context, id int64) (storage.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return storage.Settings{}, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return storage.Settings{}, storage.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRepo) AddSettings(_ context.Context, s storage.Settings) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	if f.addErr != nil {
		return 0, f.addErr
	}
	if s.ID == 0 {
		s.ID = int64(len(f.records) + 1)
	}
	if !f.dropAdds {
		f.records[s.ID] = s
	}
	return s.ID, nil
}

func (f *fakeRepo) UpdateSettings(_ context.Context, id int64, p storage.SettingsPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	rec, ok := f.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	if p.APIKey != nil {
		rec.APIKey = *p.APIKey
	}
	if p.Temp != nil {
		rec.Temp = *p.Temp
	}
	if p.Model != nil {
		rec.Model = *p.Model
	}
	if p.MaxTokens != nil {
		rec.MaxTokens = *p.MaxTokens
	}
	f.records[id] = rec
	return nil
}

func (f *fakeRepo) counts() (gets, adds, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.adds, f.updates
}

func newTestStore(t *testing.T, repo Repository) (*Store, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	s := New(Config{Repo: repo, Logger: zerolog.Nop(), Metrics: m})
	t.Cleanup(s.Close)
	return s, m
}

func TestReloadCreatesDefaults(t *testing.T) {
	repo := newFakeRepo()
	s, m := newTestStore(t, repo)

	require.NoError(t, s.Reload(context.Background()))

	got := s.Snapshot()
	assert.Equal(t, "", got.APIKey)
	assert.Equal(t, "0.5", got.Temp)
	assert.Equal(t, "gemini-1.5-pro", got.Model)
	assert.Equal(t, "20000", got.MaxTokens)
	assert.Equal(t, int64(1), got.ReloadCount)

	rec := repo.records[storage.SettingsID]
	assert.Equal(t, storage.Settings{ID: 1, Temp: "0.5", Model: "gemini-1.5-pro", MaxTokens: "20000"}, rec)

	gets, adds, _ := repo.counts()
	assert.Equal(t, 2, gets)
	assert.Equal(t, 1, adds)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reloads))
}

func TestReloadUsesConfiguredDefaults(t *testing.T) {
	repo := newFakeRepo()
	s := New(Config{
		Repo:     repo,
		Defaults: Defaults{Model: "gemini-2.0-flash"},
		Logger:   zerolog.Nop(),
		Metrics:  metrics.New(),
	})
	defer s.Close()

	require.NoError(t, s.Reload(context.Background()))
	got := s.Snapshot()
	assert.Equal(t, "gemini-2.0-flash", got.Model)
	assert.Equal(t, DefaultTemp, got.Temp)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
}

func TestReloadStopsWhenCreatedRecordIsMissing(t *testing.T) {
	repo := newFakeRepo()
	repo.dropAdds = true
	var buf bytes.Buffer
	m := metrics.New()
	s := New(Config{Repo: repo, Logger: zerolog.New(&buf), Metrics: m})
	defer s.Close()

	err := s.Reload(context.Background())
	require.ErrorIs(t, err, ErrCreateLoop)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "reload", serr.Op)

	gets, adds, _ := repo.counts()
	assert.Equal(t, 2, gets)
	assert.Equal(t, 1, adds)
	assert.Equal(t, int64(0), s.ReloadCount())
	assert.Contains(t, buf.String(), "endless loop while creating settings record")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReloadFailures))
}

func TestUpdateThenReloadRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	s, _ := newTestStore(t, repo)
	ctx := context.Background()
	require.NoError(t, s.Reload(ctx))

	form := Form{APIKey: "X", Temp: "0.9", Model: "m2", MaxTokens: "5000"}
	require.NoError(t, s.Update(ctx, form))
	require.NoError(t, s.Reload(ctx))

	assert.Equal(t, form, s.Snapshot().Form())
}

func TestUpdateDoesNotTouchMirrors(t *testing.T) {
	repo := newFakeRepo()
	s, m := newTestStore(t, repo)
	ctx := context.Background()
	require.NoError(t, s.Reload(ctx))
	before := s.Snapshot()

	require.NoError(t, s.Update(ctx, Form{APIKey: "X", Temp: "0.9", Model: "m2", MaxTokens: "5000"}))

	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, "X", repo.records[storage.SettingsID].APIKey)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Updates))
}

func TestHideAfterShowReloadsOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.records[storage.SettingsID] = storage.Settings{ID: 1, APIKey: "key", Temp: "0.2", Model: "m1", MaxTokens: "42"}
	s, _ := newTestStore(t, repo)

	s.Show()
	s.Hide()
	s.Wait()

	got := s.Snapshot()
	assert.False(t, got.Visible)
	assert.Equal(t, Form{APIKey: "key", Temp: "0.2", Model: "m1", MaxTokens: "42"}, got.Form())
	assert.Equal(t, int64(1), got.ReloadCount)

	gets, _, _ := repo.counts()
	assert.Equal(t, 1, gets)
}

func TestShowAloneDoesNotReload(t *testing.T) {
	repo := newFakeRepo()
	repo.records[storage.SettingsID] = storage.Settings{ID: 1, Model: "m1"}
	s, _ := newTestStore(t, repo)

	s.Show()
	s.Show()
	s.Wait()

	assert.True(t, s.Visible())
	assert.Equal(t, int64(0), s.ReloadCount())
	gets, _, _ := repo.counts()
	assert.Equal(t, 0, gets)
}

func TestHideWhileHiddenDoesNotReload(t *testing.T) {
	repo := newFakeRepo()
	s, _ := newTestStore(t, repo)

	s.Hide()
	s.Wait()

	gets, _, _ := repo.counts()
	assert.Equal(t, 0, gets)
}

func TestHideDiscardsUnsavedEdits(t *testing.T) {
	repo := newFakeRepo()
	s, _ := newTestStore(t, repo)
	ctx := context.Background()
	require.NoError(t, s.Reload(ctx))

	s.Show()
	// written behind the store's back, as another tab would
	repo.records[storage.SettingsID] = storage.Settings{ID: 1, APIKey: "other", Temp: "1", Model: "m3", MaxTokens: "7"}
	s.Hide()
	s.Wait()

	assert.Equal(t, "other", s.Snapshot().APIKey)
	assert.Equal(t, int64(2), s.ReloadCount())
}

func TestReloadFetchFailureLeavesStateUnchanged(t *testing.T) {
	repo := newFakeRepo()
	repo.records[storage.SettingsID] = storage.Settings{ID: 1, APIKey: "a", Temp: "0.1", Model: "m", MaxTokens: "1"}
	s, m := newTestStore(t, repo)
	ctx := context.Background()
	require.NoError(t, s.Reload(ctx))
	before := s.Snapshot()

	cause := errors.New("disk I/O error")
	repo.mu.Lock()
	repo.getErr = cause
	repo.mu.Unlock()

	err := s.Reload(ctx)
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReloadFailures))
}

func TestReloadCreateFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.addErr = errors.New("readonly database")
	s, _ := newTestStore(t, repo)

	err := s.Reload(context.Background())
	require.ErrorIs(t, err, ErrStorageUnavailable)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "create", serr.Op)
	assert.Equal(t, int64(0), s.ReloadCount())
}

func TestUpdateFailure(t *testing.T) {
	repo := newFakeRepo()
	s, m := newTestStore(t, repo)

	err := s.Update(context.Background(), Form{APIKey: "X"})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UpdateFailures))
	assert.Equal(t, State{}, s.Snapshot())
}

func TestReloadUpdateReloadScenario(t *testing.T) {
	repo := newFakeRepo()
	s, _ := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, s.Reload(ctx))
	require.NoError(t, s.Update(ctx, Form{APIKey: "k1", Temp: "1.0", Model: "gemini-1.5-pro", MaxTokens: "1000"}))
	require.NoError(t, s.Reload(ctx))

	got := s.Snapshot()
	assert.Equal(t, "k1", got.APIKey)
	assert.Equal(t, "1.0", got.Temp)
	assert.Equal(t, "1000", got.MaxTokens)
	assert.Equal(t, int64(2), got.ReloadCount)
}

func TestCloseStopsBackgroundReloads(t *testing.T) {
	repo := newFakeRepo()
	repo.records[storage.SettingsID] = storage.Settings{ID: 1}
	s, _ := newTestStore(t, repo)

	s.Show()
	s.Close()
	s.Hide()
	s.Wait()

	gets, _, _ := repo.counts()
	assert.Equal(t, 0, gets)
}
