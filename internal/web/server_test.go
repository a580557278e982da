package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/C1ean-dev/process/internal/events"
	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/store"
)

type fakeArchive struct {
	url string
	err error
}

func (f *fakeArchive) Put(context.Context, string, io.Reader) error { return nil }
func (f *fakeArchive) SignedURL(key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url + key, nil
}
func (f *fakeArchive) Close() error { return nil }

func newTestServer(t *testing.T, opts Options) (*Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return NewServer(st, opts), st
}

func seedDoc(t *testing.T, st *store.Memory, status models.Status) *models.Document {
	t.Helper()
	ctx := context.Background()
	id, err := st.Create(ctx, &models.Document{
		OriginalName: "term.pdf",
		StoredName:   "abc123.pdf",
		Status:       models.StatusPending,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	switch status {
	case models.StatusProcessing:
		if err := st.MarkProcessing(ctx, id); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
	case models.StatusCompleted:
		if err := st.MarkProcessing(ctx, id); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		if err := st.SaveResult(ctx, id, "empregado: maria", &models.Fields{Name: "maria"}); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
		if err := st.MarkCompleted(ctx, id, "abc123.pdf"); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
	case models.StatusFailed:
		if err := st.MarkFailed(ctx, id, "extraction produced no text"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
	}
	doc, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return doc
}

func get(t *testing.T, srv *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestAuthTokenRequired(t *testing.T) {
	srv, _ := newTestServer(t, Options{AuthToken: "secret"})

	if rr := get(t, srv, "/documents", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d", rr.Code)
	}
	if rr := get(t, srv, "/documents", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d", rr.Code)
	}
	if rr := get(t, srv, "/documents", "secret"); rr.Code != http.StatusOK {
		t.Fatalf("valid token: code = %d", rr.Code)
	}
}

func TestAuthRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{AuthToken: "secret", AuthLimit: 2})

	get(t, srv, "/documents", "")
	get(t, srv, "/documents", "")
	if rr := get(t, srv, "/documents", ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rr.Code)
	}
}

func TestAllowlistBlocksUnknownHosts(t *testing.T) {
	allow, err := ParseCIDRAllowlist([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("ParseCIDRAllowlist: %v", err)
	}
	srv, _ := newTestServer(t, Options{Allowlist: allow})

	// httptest requests come from 192.0.2.x, outside the allowlist.
	if rr := get(t, srv, "/healthz", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	seedDoc(t, st, models.StatusPending)

	rr := get(t, srv, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestListCounts(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	seedDoc(t, st, models.StatusPending)
	seedDoc(t, st, models.StatusCompleted)

	rr := get(t, srv, "/documents", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var counts map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &counts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if counts["pending"] != 1 || counts["completed"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestListByStatus(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	seedDoc(t, st, models.StatusPending)
	seedDoc(t, st, models.StatusFailed)

	rr := get(t, srv, "/documents?status=failed", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var docs []documentSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(docs) != 1 || docs[0].Status != "failed" {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].FailureReason == nil || *docs[0].FailureReason == "" {
		t.Fatal("failure reason missing from summary")
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	if rr := get(t, srv, "/documents?status=bogus", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	if rr := get(t, srv, "/documents?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestDocumentDetail(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	doc := seedDoc(t, st, models.StatusCompleted)

	rr := get(t, srv, "/documents/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var detail documentDetail
	if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.ID != doc.ID || detail.Status != "completed" {
		t.Fatalf("detail = %+v", detail)
	}
	if detail.Fields == nil || detail.Fields.Name != "maria" {
		t.Fatalf("fields = %+v", detail.Fields)
	}
}

func TestDocumentNotFound(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	if rr := get(t, srv, "/documents/99", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestDocumentBadID(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	if rr := get(t, srv, "/documents/abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestDownloadRedirects(t *testing.T) {
	archive := &fakeArchive{url: "https://signed.example/"}
	srv, st := newTestServer(t, Options{Archive: archive})
	seedDoc(t, st, models.StatusCompleted)

	rr := get(t, srv, "/documents/1/download", "")
	if rr.Code != http.StatusFound {
		t.Fatalf("code = %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://signed.example/abc123.pdf" {
		t.Fatalf("location = %q", loc)
	}
}

func TestDownloadRequiresCompletion(t *testing.T) {
	srv, st := newTestServer(t, Options{Archive: &fakeArchive{}})
	seedDoc(t, st, models.StatusProcessing)

	rr := get(t, srv, "/documents/1/download", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("code = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "processing") {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestDownloadWithoutArchive(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	seedDoc(t, st, models.StatusCompleted)

	if rr := get(t, srv, "/documents/1/download", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestEventsNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	if rr := get(t, srv, "/events", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestEventsHeadSetsStreamHeaders(t *testing.T) {
	srv, _ := newTestServer(t, Options{Events: events.NewBroker(4)})

	req := httptest.NewRequest(http.MethodHead, "/events", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestEventsRejectsBadFilter(t *testing.T) {
	srv, _ := newTestServer(t, Options{Events: events.NewBroker(4)})
	if rr := get(t, srv, "/events?document_id=abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rr.Code)
	}
}
