package library

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/store"
)

func TestExtractTrackID(t *testing.T) {
	tests := []struct {
		ref    string
		want   string
		wantOK bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://music.youtube.com/watch?v=abc123&list=RDAMVM", "abc123", true},
		{"youtube.com/watch?feature=share&v=xyz_-9", "xyz_-9", true},
		{"http://youtu.be/short1", "short1", true},
		{"https://youtu.be/short2?si=tracking", "short2", true},
		{"  dQw4w9WgXcQ  ", "dQw4w9WgXcQ", true},
		{"", "", false},
		{"https://example.com/watch?x=1", "", false},
		{"not an id", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := ExtractTrackID(tt.ref)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractTrackID(%q) = %q, %v; want %q, %v", tt.ref, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

type fakeFiles struct {
	deleted []string
	err     error
}

func (f *fakeFiles) Delete(key string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func setupService(t *testing.T) (*Service, *store.TrackStore, *fakeFiles) {
	t.Helper()
	db, err := store.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	tracks := store.NewTrackStore(db)
	files := &fakeFiles{}
	return NewService(tracks, files, nil), tracks, files
}

func insert(t *testing.T, tracks *store.TrackStore, id string, status store.TrackStatus) {
	t.Helper()
	tr := store.NewTrack(id, "Title "+id)
	tr.Status = status
	if err := tracks.Insert(context.Background(), tr); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
}

func TestEnqueue(t *testing.T) {
	svc, tracks, _ := setupService(t)
	ctx := context.Background()
	insert(t, tracks, "existing", store.StatusDownloaded)

	res, err := svc.Enqueue(ctx,
		"https://youtu.be/new1",
		"new1",
		"https://www.youtube.com/watch?v=existing",
		"new2")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(res.Added) != 2 || res.Added[0] != "new1" || res.Added[1] != "new2" {
		t.Errorf("added = %v", res.Added)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "existing" {
		t.Errorf("skipped = %v", res.Skipped)
	}

	got, err := svc.Get(ctx, "new1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "new1" || got.Status != store.StatusPending {
		t.Errorf("new track = %+v", got)
	}

	existing, _ := svc.Get(ctx, "existing")
	if existing.Status != store.StatusDownloaded {
		t.Error("existing track was modified")
	}
}

func TestEnqueueRejectsInvalidRefs(t *testing.T) {
	svc, tracks, _ := setupService(t)

	if _, err := svc.Enqueue(context.Background()); apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
		t.Errorf("empty refs: %v", err)
	}
	if _, err := svc.Enqueue(context.Background(), "ok1", "bad link"); apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
		t.Errorf("bad ref: %v", err)
	}

	all, _ := tracks.All(context.Background())
	if len(all) != 0 {
		t.Error("nothing should be inserted when a ref is invalid")
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		status  store.TrackStatus
		wantErr bool
	}{
		{store.StatusFailed, false},
		{store.StatusFileDeleted, false},
		{store.StatusPending, true},
		{store.StatusDownloading, true},
		{store.StatusDownloaded, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.Key(), func(t *testing.T) {
			svc, tracks, _ := setupService(t)
			insert(t, tracks, "x", tt.status)

			err := svc.Retry(context.Background(), "x")
			if tt.wantErr {
				if apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Retry failed: %v", err)
			}
			got, _ := svc.Get(context.Background(), "x")
			if got.Status != store.StatusPending {
				t.Errorf("status = %s, want pending", got.Status)
			}
		})
	}
}

func TestRetryMissingTrack(t *testing.T) {
	svc, _, _ := setupService(t)
	if err := svc.Retry(context.Background(), "nope"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, tracks, files := setupService(t)
	ctx := context.Background()

	tr := store.NewTrack("x", "X")
	tr.Status = store.StatusDownloaded
	tr.AudioFileKey = "audio"
	tr.CoverFileKey = "cover"
	tracks.Insert(ctx, tr)

	if err := svc.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(files.deleted) != 2 {
		t.Errorf("deleted files = %v", files.deleted)
	}
	if _, err := svc.Get(ctx, "x"); !apperrors.IsNotFound(err) {
		t.Errorf("record still present: %v", err)
	}
}

func TestDeleteKeepsRecordWhenFilesFail(t *testing.T) {
	svc, tracks, files := setupService(t)
	ctx := context.Background()

	tr := store.NewTrack("x", "X")
	tr.Status = store.StatusDownloaded
	tr.AudioFileKey = "audio"
	tracks.Insert(ctx, tr)
	files.err = errors.New("permission denied")

	if err := svc.Delete(ctx, "x"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := svc.Get(ctx, "x"); err != nil {
		t.Errorf("record should remain: %v", err)
	}
}

func TestDeleteRejectsDownloading(t *testing.T) {
	svc, tracks, _ := setupService(t)
	insert(t, tracks, "x", store.StatusDownloading)

	if err := svc.Delete(context.Background(), "x"); apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestListAndCounts(t *testing.T) {
	svc, tracks, _ := setupService(t)
	ctx := context.Background()
	insert(t, tracks, "a", store.StatusPending)
	insert(t, tracks, "b", store.StatusFailed)
	insert(t, tracks, "c", store.StatusFailed)

	all, err := svc.List(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("List = %d, %v", len(all), err)
	}
	failed, err := svc.ListByStatus(ctx, store.StatusFailed)
	if err != nil || len(failed) != 2 {
		t.Fatalf("ListByStatus = %d, %v", len(failed), err)
	}
	counts, err := svc.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[store.StatusFailed] != 2 || counts[store.StatusPending] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
