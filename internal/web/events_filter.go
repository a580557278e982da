package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/C1ean-dev/process/internal/events"
)

type eventFilter struct {
	eventType  string
	documentID *int64
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	query := r.URL.Query()
	filter := eventFilter{
		eventType: strings.TrimSpace(query.Get("type")),
	}
	if val := strings.TrimSpace(query.Get("document_id")); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return eventFilter{}, fmt.Errorf("invalid document_id")
		}
		filter.documentID = &parsed
	}
	return filter, nil
}

func (f eventFilter) Matches(event events.Event) bool {
	if f.eventType != "" && event.Type != f.eventType {
		return false
	}
	if f.documentID != nil && event.DocumentID != *f.documentID {
		return false
	}
	return true
}
