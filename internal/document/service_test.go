package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/recruitman/internal/fanout"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository/memrepo"
	"github.com/hitoshi/recruitman/internal/storage"
)

const (
	hrID         = "10000000-0000-0000-0000-000000000001"
	candidateID  = "20000000-0000-0000-0000-000000000002"
	candidate2ID = "30000000-0000-0000-0000-000000000003"
	docID        = "40000000-0000-0000-0000-000000000004"
	bucket       = "recruitman-docs"
)

var (
	hr         = policy.Actor{ID: hrID, Role: model.RoleHR}
	candidate  = policy.Actor{ID: candidateID, Role: model.RoleCandidate}
	candidate2 = policy.Actor{ID: candidate2ID, Role: model.RoleCandidate}
	fixedNow   = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

// mockBlobStore はstorage.BlobStoreのモック。putFn・getFnが未設定の場合はメモリに保存する。
type mockBlobStore struct {
	putFn   func(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error)
	getFn   func(ctx context.Context, objectURL string) (io.ReadCloser, error)
	objects map[string][]byte
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{objects: map[string][]byte{}}
}

func (m *mockBlobStore) Put(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error) {
	if m.putFn != nil {
		return m.putFn(ctx, objectPath, r, contentType)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	url := storage.ObjectURL(bucket, objectPath)
	if _, ok := m.objects[url]; ok {
		return "", storage.ErrObjectExists
	}
	m.objects[url] = b
	return url, nil
}

func (m *mockBlobStore) Get(ctx context.Context, objectURL string) (io.ReadCloser, error) {
	if m.getFn != nil {
		return m.getFn(ctx, objectURL)
	}
	b, ok := m.objects[objectURL]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type mockPublisher struct {
	events []string
}

func (m *mockPublisher) Publish(_ context.Context, userID string, ev realtime.Event) error {
	m.events = append(m.events, userID+":"+string(ev.Type))
	return nil
}

type fixture struct {
	svc   *Service
	store *memrepo.Store
	blobs *mockBlobStore
	pub   *mockPublisher
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	store.PutProfile(model.Profile{ID: hrID, Role: model.RoleHR})
	store.PutProfile(model.Profile{ID: candidateID, Role: model.RoleCandidate, Email: "hanako@example.com"})
	store.PutProfile(model.Profile{ID: candidate2ID, Role: model.RoleCandidate})

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	rules := fanout.NewRules(0)
	rules.Now = func() time.Time { return fixedNow }
	blobs := newMockBlobStore()
	pub := &mockPublisher{}
	svc := NewService(store, policy.New(store.Relations()), blobs, rules, fanout.NewDispatcher(nil, logger, 0, 0), pub, logger, 64)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, store: store, blobs: blobs, pub: pub, logs: &logs}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %s, want %s (%v)", apiErr.Code, code, err)
	}
}

func file(name, content string) FileInput {
	return FileInput{FileName: name, ContentType: "application/pdf", Size: int64(len(content)), Body: strings.NewReader(content)}
}

func (f *fixture) upload(t *testing.T, expiry *time.Time) *model.Document {
	t.Helper()
	d, err := f.svc.Upload(context.Background(), candidate, UploadInput{Name: "履歴書", DocumentType: "cv", ExpiryDate: expiry, File: file("cv.pdf", "v1")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return d
}

func TestUpload_CreatesDocumentAndFirstVersion(t *testing.T) {
	f := newFixture(t)
	d := f.upload(t, nil)

	if d.Status != model.DocumentStatusPending || d.CurrentVersion != 1 || d.UserID != candidateID {
		t.Errorf("document = %+v", d)
	}
	wantURL := "gs://" + bucket + "/" + candidateID + "/" + d.ID + "/v1/cv.pdf"
	if d.FileURL != wantURL {
		t.Errorf("FileURL = %q, want %q", d.FileURL, wantURL)
	}
	vs := f.store.Versions(d.ID)
	if len(vs) != 1 || vs[0].Version != 1 || vs[0].FileURL != wantURL || vs[0].UploadedBy != candidateID {
		t.Errorf("versions = %+v", vs)
	}
	if len(f.store.Notifications()) != 0 {
		t.Error("insert without expiry must not notify")
	}
}

func TestUpload_ExpiryWithinWindowNotifies(t *testing.T) {
	tests := []struct {
		name   string
		expiry time.Time
		want   int
	}{
		{"in 10 days", fixedNow.Add(10 * 24 * time.Hour), 1},
		{"exactly 30 days", fixedNow.Add(30 * 24 * time.Hour), 1},
		{"in 31 days", fixedNow.Add(31 * 24 * time.Hour), 0},
		{"already expired", fixedNow.Add(-time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.upload(t, &tt.expiry)
			ns := f.store.Notifications()
			if len(ns) != tt.want {
				t.Fatalf("notifications = %d, want %d", len(ns), tt.want)
			}
			if tt.want == 1 && (ns[0].Type != model.NotificationDocumentExpiry || len(f.store.Emails()) != 1) {
				t.Errorf("notification = %+v, emails = %d", ns[0], len(f.store.Emails()))
			}
		})
	}
}

func TestUpload_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		actor policy.Actor
		in    UploadInput
		code  string
	}{
		{"no profile", policy.Actor{ID: candidateID}, UploadInput{Name: "x", File: file("a", "b")}, model.ErrCodeProfileRequired},
		{"no name", candidate, UploadInput{File: file("a", "b")}, model.ErrCodeValidationFailed},
		{"empty file", candidate, UploadInput{Name: "x", File: file("a", "")}, model.ErrCodeValidationFailed},
		{"too large", candidate, UploadInput{Name: "x", File: file("a", strings.Repeat("x", 65))}, model.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Upload(context.Background(), tt.actor, tt.in)
			assertCode(t, err, tt.code)
			if len(f.blobs.objects) != 0 || f.store.Count("documents") != 0 {
				t.Error("nothing should be stored")
			}
		})
	}
}

func TestUpload_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.blobs.putFn = func(context.Context, string, io.Reader, string) (string, error) {
		return "", errors.New("503 from storage")
	}

	_, err := f.svc.Upload(context.Background(), candidate, UploadInput{Name: "x", File: file("a.pdf", "b")})
	assertCode(t, err, model.ErrCodeUpstreamFailure)
	if f.store.Count("documents") != 0 {
		t.Error("document must not be created when the upload fails")
	}
	if !strings.Contains(f.logs.String(), "503 from storage") {
		t.Errorf("expected storage error to be logged, got %s", f.logs.String())
	}
}

func TestReplaceFile_AppendsVersionAndResetsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.upload(t, nil)
	if _, err := f.svc.Approve(ctx, hr, d.ID, ApprovalInput{Status: model.DocumentStatusApproved}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	next, err := f.svc.ReplaceFile(ctx, candidate, d.ID, file("cv-2.pdf", "v2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.CurrentVersion != 2 || next.Status != model.DocumentStatusPending || !strings.HasSuffix(next.FileURL, "/v2/cv-2.pdf") {
		t.Errorf("document = %+v", next)
	}
	if vs := f.store.Versions(d.ID); len(vs) != 2 {
		t.Errorf("versions = %d, want 2", len(vs))
	}

	// 承認通知と、pendingへ戻ったことの通知
	var statusNotices int
	for _, n := range f.store.Notifications() {
		if n.Type == model.NotificationDocumentStatus {
			statusNotices++
		}
	}
	if statusNotices != 2 {
		t.Errorf("status notices = %d, want 2", statusNotices)
	}

	old, err := f.svc.Content(ctx, candidate, d.ID, 1)
	if err != nil {
		t.Fatalf("content v1: %v", err)
	}
	defer old.Body.Close()
	b, _ := io.ReadAll(old.Body)
	if string(b) != "v1" || old.Name != "cv.pdf" {
		t.Errorf("v1 content = %q name = %q", b, old.Name)
	}

	_, err = f.svc.ReplaceFile(ctx, candidate2, d.ID, file("x", "y"))
	assertCode(t, err, model.ErrCodeNotFound)
}

func TestReplaceFile_ConcurrentVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.upload(t, nil)

	// 同じ版を読んだ別の差し替えが先にv2を書き込んだ状態
	taken := storage.ObjectURL(bucket, storage.DocumentPath(candidateID, d.ID, 2, "cv.pdf"))
	f.blobs.objects[taken] = []byte("other")

	_, err := f.svc.ReplaceFile(ctx, candidate, d.ID, file("cv.pdf", "mine"))
	assertCode(t, err, model.ErrCodeConflict)

	if got := string(f.blobs.objects[taken]); got != "other" {
		t.Errorf("existing v2 blob = %q, want it untouched", got)
	}
	if vs := f.store.Versions(d.ID); len(vs) != 1 {
		t.Errorf("versions = %d, want 1", len(vs))
	}
	cur, err := f.svc.GetDocument(ctx, candidate, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cur.CurrentVersion != 1 || !strings.HasSuffix(cur.FileURL, "/v1/cv.pdf") {
		t.Errorf("document = %+v", cur)
	}
	if !strings.Contains(f.logs.String(), "既に保存されています") {
		t.Errorf("expected conflict warning, logs: %s", f.logs.String())
	}
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.upload(t, nil)

	_, err := f.svc.Approve(ctx, candidate, d.ID, ApprovalInput{Status: model.DocumentStatusApproved})
	assertCode(t, err, model.ErrCodeForbidden)
	_, err = f.svc.Approve(ctx, hr, d.ID, ApprovalInput{Status: model.DocumentStatusPending})
	assertCode(t, err, model.ErrCodeValidationFailed)

	a, err := f.svc.Approve(ctx, hr, d.ID, ApprovalInput{Status: model.DocumentStatusRejected, Comment: " 印影が不鮮明です "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ApproverID != hrID || a.Comment != "印影が不鮮明です" {
		t.Errorf("approval = %+v", a)
	}
	stored, _ := f.svc.GetDocument(ctx, candidate, d.ID)
	if stored.Status != model.DocumentStatusRejected {
		t.Errorf("Status = %s, want rejected", stored.Status)
	}
	ns := f.store.Notifications()
	if len(ns) != 1 || ns[0].Title != "書類が差し戻されました" || ns[0].UserID != candidateID {
		t.Fatalf("notifications = %+v", ns)
	}
	if len(f.pub.events) != 1 {
		t.Errorf("published = %v", f.pub.events)
	}

	approvals, err := f.svc.ListApprovals(ctx, candidate, d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(approvals) != 1 {
		t.Errorf("approvals = %d, want 1", len(approvals))
	}
	_, err = f.svc.ListApprovals(ctx, candidate2, d.ID)
	assertCode(t, err, model.ErrCodeNotFound)
}

func TestUpdateDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.upload(t, nil)

	expiry := fixedNow.Add(7 * 24 * time.Hour)
	got, err := f.svc.UpdateDocument(ctx, candidate, d.ID, DocumentPatch{ExpiryDate: &expiry})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ExpiryDate == nil || !got.ExpiryDate.Equal(expiry) || got.Status != model.DocumentStatusPending {
		t.Errorf("document = %+v", got)
	}
	ns := f.store.Notifications()
	if len(ns) != 1 || ns[0].Type != model.NotificationDocumentExpiry {
		t.Fatalf("notifications = %+v", ns)
	}

	empty := " "
	_, err = f.svc.UpdateDocument(ctx, candidate, d.ID, DocumentPatch{Name: &empty})
	assertCode(t, err, model.ErrCodeValidationFailed)
}

func TestDocumentVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.upload(t, nil)

	_, err := f.svc.GetDocument(ctx, candidate2, d.ID)
	assertCode(t, err, model.ErrCodeNotFound)
	if _, err := f.svc.GetDocument(ctx, hr, d.ID); err != nil {
		t.Errorf("hr should see document: %v", err)
	}

	list, err := f.svc.ListDocuments(ctx, candidate2, candidateID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("other candidate documents = %d, want 0", len(list))
	}
	list, err = f.svc.ListDocuments(ctx, hr, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("hr documents = %d, want 1", len(list))
	}

	vs, err := f.svc.ListVersions(ctx, candidate, d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vs) != 1 {
		t.Errorf("versions = %d, want 1", len(vs))
	}
}

func TestContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.upload(t, nil)

	got, err := f.svc.Content(ctx, hr, d.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got.Body.Close()

	_, err = f.svc.Content(ctx, candidate, d.ID, 5)
	assertCode(t, err, model.ErrCodeNotFound)
	_, err = f.svc.Content(ctx, candidate2, d.ID, 0)
	assertCode(t, err, model.ErrCodeNotFound)

	// 他人のパスを指すURLは所有者でも読めない
	f.store.PutDocument(model.Document{ID: docID, UserID: candidateID, Name: "x", Status: model.DocumentStatusPending, CurrentVersion: 1,
		FileURL: storage.ObjectURL(bucket, candidate2ID+"/"+docID+"/v1/x.pdf")})
	_, err = f.svc.Content(ctx, candidate, docID, 0)
	assertCode(t, err, model.ErrCodeForbidden)

	f.blobs.getFn = func(context.Context, string) (io.ReadCloser, error) { return nil, storage.ErrObjectNotFound }
	_, err = f.svc.Content(ctx, candidate, d.ID, 0)
	assertCode(t, err, model.ErrCodeNotFound)

	f.blobs.getFn = func(context.Context, string) (io.ReadCloser, error) { return nil, errors.New("timeout") }
	_, err = f.svc.Content(ctx, candidate, d.ID, 0)
	assertCode(t, err, model.ErrCodeUpstreamFailure)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.upload(t, nil)

	assertCode(t, f.svc.DeleteDocument(ctx, hr, d.ID), model.ErrCodeForbidden)
	if err := f.svc.DeleteDocument(ctx, candidate, d.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.Count("documents") != 0 || len(f.store.Versions(d.ID)) != 0 {
		t.Error("document and versions should be deleted")
	}
	if len(f.blobs.objects) != 1 {
		t.Error("stored blobs are kept")
	}
}
