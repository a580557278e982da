package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestShouldRedactKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{key: "cpf", want: true},
		{key: "CPF", want: true},
		{key: "extracted_text", want: true},
		{key: "fields_json", want: true},
		{key: "signed_url", want: true},
		{key: "api_token", want: true},
		{key: "authorization", want: true},
		{key: "stored_name", want: false},
		{key: "document_id", want: false},
		{key: "attempt", want: false},
	}

	for _, tt := range tests {
		if got := shouldRedactKey(tt.key); got != tt.want {
			t.Fatalf("expected shouldRedactKey(%q)=%v, got %v", tt.key, tt.want, got)
		}
	}
}

func TestRedactAttrGroups(t *testing.T) {
	attr := slog.Group("document", slog.String("extracted_text", "empregado: maria"), slog.String("stored_name", "doc.pdf"))
	redacted := redactAttr(attr)

	group := redacted.Value.Group()
	if len(group) != 2 {
		t.Fatalf("expected 2 group attrs, got %d", len(group))
	}

	if group[0].Value.String() != redactedValue {
		t.Fatalf("expected extracted_text to be redacted, got %q", group[0].Value.String())
	}
	if group[1].Value.String() != "doc.pdf" {
		t.Fatalf("expected stored_name to stay, got %q", group[1].Value.String())
	}
}

func TestRedactingHandlerScrubsRecords(t *testing.T) {
	var buf bytes.Buffer
	handler := newRedactingHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler).With(slog.String("auth_token", "hunter2"))

	logger.LogAttrs(context.Background(), slog.LevelInfo, "document completed",
		slog.String("cpf", "123.456.789-00"),
		slog.Int64("document_id", 42),
	)

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "123.456.789-00") {
		t.Fatalf("sensitive value reached the log stream: %s", out)
	}
	if !strings.Contains(out, redactedValue) {
		t.Fatalf("redaction marker missing: %s", out)
	}
	if !strings.Contains(out, `"document_id":42`) {
		t.Fatalf("benign attribute lost: %s", out)
	}
}
