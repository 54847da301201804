package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	root := t.TempDir()
	dbPath := filepath.Join(root, "data", "database.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(dbPath), 0755))
	require.NoError(t, os.WriteFile(dbPath, []byte("v1"), 0644))

	now := time.Date(2025, 5, 4, 3, 2, 1, 0, time.UTC)
	s := NewService(dbPath, filepath.Join(root, "backups"), 0, nil)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestCreateNamesFileByTimestamp(t *testing.T) {
	s, _ := newTestService(t)

	path, err := s.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "database_20250504_030201.db", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestCreateSameSecondGetsSuffix(t *testing.T) {
	s, _ := newTestService(t)
	first, err := s.Create(context.Background())
	require.NoError(t, err)
	second, err := s.Create(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "database_20250504_030201_1.db", filepath.Base(second))
}

func TestCreateWithoutDatabase(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "missing.db"), t.TempDir(), 0, nil)
	_, err := s.Create(context.Background())
	require.ErrorIs(t, err, ErrNoDatabase)
}

type fakeSnapshot struct{ calls int }

func (f *fakeSnapshot) SnapshotTo(_ context.Context, dst string) error {
	f.calls++
	return os.WriteFile(dst, []byte("snapshot"), 0644)
}

func TestCreateUsesSnapshotter(t *testing.T) {
	s, _ := newTestService(t)
	snap := &fakeSnapshot{}
	s.Snapshot = snap

	path, err := s.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.calls)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(data))
}

func TestLatestAndCleanup(t *testing.T) {
	s, now := newTestService(t)
	ctx := context.Background()

	_, err := s.Latest()
	require.ErrorIs(t, err, ErrNoBackups)

	var paths []string
	for i := 0; i < 4; i++ {
		p, err := s.Create(ctx)
		require.NoError(t, err)
		mod := now.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(p, mod, mod))
		paths = append(paths, p)
		*now = now.Add(time.Hour)
	}

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, paths[3], latest)

	s.Keep = 2
	removed, err := s.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{paths[3], paths[2]}, list)
}

func TestRestoreReplacesDatabase(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.DBPath, []byte("v2"), 0644))
	require.NoError(t, os.WriteFile(s.DBPath+"-wal", []byte("stale"), 0644))

	from, err := s.Restore()
	require.NoError(t, err)
	assert.Contains(t, from, "database_20250504_030201.db")

	data, err := os.ReadFile(s.DBPath)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.NoFileExists(t, s.DBPath+"-wal")
}

func TestRestoreWithoutBackups(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Restore()
	require.ErrorIs(t, err, ErrNoBackups)
}

type recordingDeliverer struct {
	mu     sync.Mutex
	sent   []int64
	failOn int64
	cancel context.CancelFunc
}

func (d *recordingDeliverer) DeliverFile(_ context.Context, chatID int64, _, caption string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if chatID == d.failOn {
		return errors.New("blocked")
	}
	d.sent = append(d.sent, chatID)
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

type recordingAuditor struct {
	actions []string
	details []map[string]any
}

func (a *recordingAuditor) Record(_ context.Context, _ int64, _, action string, details map[string]any) {
	a.actions = append(a.actions, action)
	a.details = append(a.details, details)
}

func TestWorkerRunOnceDeliversAndAudits(t *testing.T) {
	s, _ := newTestService(t)
	d := &recordingDeliverer{failOn: 20}
	a := &recordingAuditor{}
	w := &Worker{Service: s, Targets: []int64{10, 20, 30}, Deliverer: d, Audit: a}

	out := w.RunOnce(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, []int64{10, 30}, out.Delivered)
	assert.Equal(t, []string{"auto_backup_sent"}, a.actions)
	assert.Equal(t, []int64{10, 30}, a.details[0]["targets"])
}

func TestWorkerStopsDeliveryOnCancel(t *testing.T) {
	s, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	d := &recordingDeliverer{cancel: cancel}
	w := &Worker{Service: s, Targets: []int64{1, 2, 3}, Deliverer: d}

	out := w.RunOnce(ctx)
	require.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, []int64{1}, d.sent)
}

func TestWorkerRunLoop(t *testing.T) {
	s, _ := newTestService(t)
	s.now = time.Now
	d := &recordingDeliverer{}
	cycles := make(chan Outcome, 4)
	w := &Worker{
		Service:   s,
		Interval:  10 * time.Millisecond,
		Targets:   []int64{7},
		Deliverer: d,
		OnCycle: func(o Outcome) {
			select {
			case cycles <- o:
			default:
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case o := <-cycles:
		require.NoError(t, o.Err)
		assert.Equal(t, []int64{7}, o.Delivered)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not run")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
