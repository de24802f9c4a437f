package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yodel/yodel-go/internal/store"
)

// pathChecker treats file keys as plain paths
type pathChecker struct{}

func (pathChecker) Exists(key string) bool {
	info, err := os.Stat(key)
	return err == nil && info.Mode().IsRegular()
}

func setupTestDB(t *testing.T) *store.TrackStore {
	t.Helper()
	db, err := store.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewTrackStore(db)
}

func insertDownloaded(t *testing.T, tracks *store.TrackStore, id, key string) {
	t.Helper()
	tr := store.NewTrack(id, id)
	tr.Status = store.StatusDownloaded
	tr.AudioFileKey = key
	if err := tracks.Insert(context.Background(), tr); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
}

func statusOf(t *testing.T, tracks *store.TrackStore, id string) store.TrackStatus {
	t.Helper()
	tr, err := tracks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return tr.Status
}

func TestPass(t *testing.T) {
	tracks := setupTestDB(t)
	dir := t.TempDir()

	present := filepath.Join(dir, "present.mp3")
	os.WriteFile(present, []byte("x"), 0644)

	insertDownloaded(t, tracks, "present", present)
	insertDownloaded(t, tracks, "gone", filepath.Join(dir, "gone.mp3"))
	insertDownloaded(t, tracks, "nokey", "")

	failed := store.NewTrack("failed", "F")
	failed.Status = store.StatusFailed
	tracks.Insert(context.Background(), failed)

	svc := NewService(tracks, pathChecker{}, Options{}, nil)
	res, err := svc.Pass(context.Background())
	if err != nil {
		t.Fatalf("Pass failed: %v", err)
	}
	if res.Checked != 3 || res.Demoted != 2 {
		t.Errorf("result = %+v", res)
	}

	want := map[string]store.TrackStatus{
		"present": store.StatusDownloaded,
		"gone":    store.StatusFileDeleted,
		"nokey":   store.StatusFileDeleted,
		"failed":  store.StatusFailed,
	}
	for id, status := range want {
		if got := statusOf(t, tracks, id); got != status {
			t.Errorf("%s: status = %s, want %s", id, got, status)
		}
	}

	// A second pass has nothing left to do
	res, _ = svc.Pass(context.Background())
	if res.Demoted != 0 {
		t.Errorf("second pass demoted %d", res.Demoted)
	}
}

func TestPassSkipsWhileRunning(t *testing.T) {
	svc := NewService(setupTestDB(t), pathChecker{}, Options{}, nil)
	svc.inProgress = true

	res, err := svc.Pass(context.Background())
	if err != nil {
		t.Fatalf("Pass failed: %v", err)
	}
	if !res.Skipped {
		t.Error("expected the pass to be skipped")
	}
}

func TestStartReactsToRemovals(t *testing.T) {
	tracks := setupTestDB(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "song.mp3")
	os.WriteFile(file, []byte("x"), 0644)
	insertDownloaded(t, tracks, "song", file)

	svc := NewService(tracks, pathChecker{}, Options{
		WatchDir: dir,
		Watch:    true,
		Debounce: 20 * time.Millisecond,
	}, nil)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	if err := svc.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	time.Sleep(50 * time.Millisecond)
	if got := statusOf(t, tracks, "song"); got != store.StatusDownloaded {
		t.Fatalf("status before removal = %s", got)
	}

	os.Remove(file)

	deadline := time.Now().Add(5 * time.Second)
	for statusOf(t, tracks, "song") != store.StatusFileDeleted {
		if time.Now().After(deadline) {
			t.Fatal("track not demoted after removal")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartRunsOnInterval(t *testing.T) {
	tracks := setupTestDB(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "song.mp3")
	os.WriteFile(file, []byte("x"), 0644)
	insertDownloaded(t, tracks, "song", file)

	svc := NewService(tracks, pathChecker{}, Options{Interval: 20 * time.Millisecond}, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	os.Remove(file)

	deadline := time.Now().Add(5 * time.Second)
	for statusOf(t, tracks, "song") != store.StatusFileDeleted {
		if time.Now().After(deadline) {
			t.Fatal("track not demoted by the interval pass")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStopWithoutStart(t *testing.T) {
	svc := NewService(setupTestDB(t), pathChecker{}, Options{}, nil)
	svc.Stop()
}
