package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inviqa/event-outbox-relay/ingest"
	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/outbox"
)

const maxEventSize = 1 << 20

type acceptor interface {
	Accept(e *outbox.Event) error
}

type eventReader interface {
	ListEvents(ctx context.Context, q outbox.EventQuery) (*outbox.EventPage, error)
}

type eventsHandler struct {
	acceptor acceptor
	reader   eventReader
}

type acceptedResponse struct {
	EventId string `json:"eventId"`
	Status  string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type eventView struct {
	EventId    string          `json:"eventId"`
	CompanyId  string          `json:"companyId"`
	EntityId   string          `json:"entityId"`
	Type       string          `json:"type"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type listResponse struct {
	Items      []eventView `json:"items"`
	NextCursor *string     `json:"nextCursor"`
}

// NewEventsHandler serves POST /events when a is not nil, accepting events
// for asynchronous writing to the outbox (a 202 only means the event was
// queued), and GET /events when r is not nil.
func NewEventsHandler(a acceptor, r eventReader) http.Handler {
	return &eventsHandler{acceptor: a, reader: r}
}

func (h eventsHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.Method == http.MethodPost && h.acceptor != nil:
		h.accept(w, req)
	case req.Method == http.MethodGet && h.reader != nil:
		h.list(w, req)
	default:
		w.Header().Set("Allow", strings.Join(h.allowed(), ", "))
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}
}

func (h eventsHandler) allowed() []string {
	var methods []string
	if h.reader != nil {
		methods = append(methods, http.MethodGet)
	}
	if h.acceptor != nil {
		methods = append(methods, http.MethodPost)
	}

	return methods
}

func (h eventsHandler) accept(w http.ResponseWriter, req *http.Request) {
	e := &outbox.Event{}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxEventSize)).Decode(e); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body is not a valid event: " + err.Error()})
		return
	}

	err := h.acceptor.Accept(e)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, acceptedResponse{EventId: e.EventId.String(), Status: "accepted"})
	case errors.Is(err, ingest.ErrInvalidEvent):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, ingest.ErrQueueFull), errors.Is(err, ingest.ErrStopped):
		log.Logger.WithError(err).Warn("rejecting event, the ingestion queue cannot take it")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		log.Logger.WithError(err).Error("unexpected error accepting event")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h eventsHandler) list(w http.ResponseWriter, req *http.Request) {
	q, err := parseEventQuery(req)
	if err == nil {
		err = q.Validate()
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	page, err := h.reader.ListEvents(req.Context(), q)
	if err != nil {
		log.Logger.WithError(err).Error("unexpected error listing events")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	res := listResponse{Items: make([]eventView, 0, len(page.Items))}
	for _, e := range page.Items {
		res.Items = append(res.Items, eventView{
			EventId:    e.EventId.String(),
			CompanyId:  e.CompanyId,
			EntityId:   e.EntityId,
			Type:       string(e.Type),
			Source:     string(e.Source),
			Payload:    e.Payload,
			OccurredAt: e.OccurredAt,
			CreatedAt:  e.CreatedAt,
		})
	}
	if page.Next != nil {
		token := page.Next.Encode()
		res.NextCursor = &token
	}

	writeJSON(w, http.StatusOK, res)
}

func parseEventQuery(req *http.Request) (outbox.EventQuery, error) {
	v := req.URL.Query()
	q := outbox.EventQuery{
		CompanyId: v.Get("companyId"),
		EntityId:  v.Get("entityId"),
		Type:      outbox.EventType(v.Get("type")),
		Limit:     outbox.DefaultListLimit,
	}

	var err error
	if l := v.Get("limit"); l != "" {
		if q.Limit, err = strconv.Atoi(l); err != nil {
			return q, errors.New("limit must be an integer")
		}
	}

	if q.From, err = parseTime(v.Get("dateFrom")); err != nil {
		return q, errors.New("dateFrom must be an RFC 3339 timestamp")
	}
	if q.To, err = parseTime(v.Get("dateTo")); err != nil {
		return q, errors.New("dateTo must be an RFC 3339 timestamp")
	}

	if c := v.Get("cursor"); c != "" {
		if q.After, err = outbox.DecodeCursor(c); err != nil {
			return q, errors.New("cursor is not a valid page cursor")
		}
	}

	return q, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339Nano, s)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
