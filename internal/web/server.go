package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/C1ean-dev/process/internal/blob"
	"github.com/C1ean-dev/process/internal/events"
	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/store"
)

const defaultListLimit = 50

// Server exposes the read-only HTTP surface: health, metrics, document
// listing and lookup, signed download redirects, and the SSE event stream.
type Server struct {
	store   store.Store
	archive blob.Storage // nil disables /download
	addr    string
	token   string
	limiter *authLimiter
	allow   *CIDRAllowlist
	tls     *tls.Config
	events  *events.Broker
}

type Options struct {
	Addr           string
	AuthToken      string
	AuthLimit      int
	AuthWindow     time.Duration
	AuthMaxEntries int
	Allowlist      *CIDRAllowlist
	TLS            *tls.Config
	Events         *events.Broker
	Archive        blob.Storage
}

func NewServer(st store.Store, opts Options) *Server {
	return &Server{
		store:   st,
		archive: opts.Archive,
		addr:    opts.Addr,
		token:   opts.AuthToken,
		limiter: newAuthLimiter(opts.AuthLimit, opts.AuthWindow, opts.AuthMaxEntries),
		allow:   opts.Allowlist,
		tls:     opts.TLS,
		events:  opts.Events,
	}
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	if s.tls != nil {
		server.TLSConfig = s.tls
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("web server shutdown error", "error", err)
		}
	}()

	if s.tls != nil {
		return server.ListenAndServeTLS("", "")
	}
	return server.ListenAndServe()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/documents", s.handleList)
	mux.HandleFunc("/documents/", s.handleDocument)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	// A cheap store round trip doubles as the readiness probe.
	if _, err := s.store.CountByStatus(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}

	query := r.URL.Query()
	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := models.Status(raw)
		switch status {
		case models.StatusPending, models.StatusProcessing, models.StatusCompleted,
			models.StatusFailed, models.StatusReprocessing:
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		docs, err := s.store.ListByStatus(r.Context(), status, limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summarize(docs))
		return
	}

	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/documents/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	switch action {
	case "":
		writeJSON(w, http.StatusOK, detailView(doc))
	case "download":
		s.redirectDownload(w, r, doc)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) redirectDownload(w http.ResponseWriter, r *http.Request, doc *models.Document) {
	if !doc.Downloadable() {
		writeError(w, http.StatusConflict, fmt.Sprintf("document is %s, downloads require completed", doc.Status))
		return
	}
	if s.archive == nil || doc.StorageRef == nil {
		writeError(w, http.StatusNotFound, "document is not archived")
		return
	}
	url, err := s.archive.SignedURL(*doc.StorageRef)
	if err != nil {
		slog.Error("failed to sign download url", "document_id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not sign download url")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	if s.events == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("events not configured"))
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("streaming unsupported"))
		return
	}

	ch, cancel, snapshot := s.events.Subscribe()
	defer cancel()
	for _, event := range snapshot {
		if !filter.Matches(event) {
			continue
		}
		if err := writeEvent(w, event); err != nil {
			return
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-ch:
			if !filter.Matches(event) {
				continue
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	host := remoteHost(r.RemoteAddr)
	if s.allow != nil && !s.allow.Allows(host) {
		limited := s.limiter != nil && !s.limiter.allow(host, time.Now())
		slog.Warn(
			"denied request",
			"path", r.URL.Path,
			"method", r.Method,
			"remote_addr", r.RemoteAddr,
			"remote_host", host,
			"reason", "allowlist",
			"rate_limited", limited,
		)
		if limited {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limited"))
		} else {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("forbidden"))
		}
		return false
	}
	if s.token == "" {
		return true
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("bearer "):])
		if token == s.token {
			return true
		}
	}

	limited := s.limiter != nil && !s.limiter.allow(host, time.Now())
	slog.Warn(
		"unauthorized request",
		"path", r.URL.Path,
		"method", r.Method,
		"remote_addr", r.RemoteAddr,
		"remote_host", host,
		"rate_limited", limited,
	)
	if limited {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	} else {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("unauthorized"))
	}
	return false
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type documentSummary struct {
	ID            int64     `json:"id"`
	OriginalName  string    `json:"original_name"`
	StoredName    string    `json:"stored_name"`
	Status        string    `json:"status"`
	Retries       int       `json:"retries"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type documentDetail struct {
	documentSummary
	Fields     *models.Fields `json:"fields,omitempty"`
	StorageRef *string        `json:"storage_ref,omitempty"`
}

func summarize(docs []models.Document) []documentSummary {
	out := make([]documentSummary, 0, len(docs))
	for i := range docs {
		out = append(out, summaryView(&docs[i]))
	}
	return out
}

func summaryView(doc *models.Document) documentSummary {
	return documentSummary{
		ID:            doc.ID,
		OriginalName:  doc.OriginalName,
		StoredName:    doc.StoredName,
		Status:        string(doc.Status),
		Retries:       doc.Retries,
		FailureReason: doc.FailureReason,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

func detailView(doc *models.Document) documentDetail {
	return documentDetail{
		documentSummary: summaryView(doc),
		Fields:          doc.Fields,
		StorageRef:      doc.StorageRef,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
