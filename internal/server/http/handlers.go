package httpserver

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/helixir/book-request-service/internal/observability"
)

// Response messages of the ingestion contract.
const (
	msgQueued        = "request queued"
	msgInvalidJSON   = "Request body is not valid JSON"
	msgNotObject     = "Request body must be a JSON object"
	msgBodyTooLarge  = "Request body too large"
	msgEnqueueFailed = "failed to send message"
	msgInvalidLimit  = "limit must be a positive integer"
)

// submitBookRequest handles POST /books. It validates the body and queues the
// request for enrichment.
func (s *Server) submitBookRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	payload, errMsg := decodePayload(body)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	req, fieldErrs := s.validator.Validate(payload)
	if len(fieldErrs) > 0 {
		if s.metrics != nil {
			s.metrics.RecordRequestRejected(fieldErrs.Fields())
		}
		s.logger.Debug().
			Strs("fields", fieldErrs.Fields()).
			Msg("book request rejected")
		writeJSON(w, http.StatusBadRequest, validationErrorResponse{Errors: fieldErrs})
		return
	}

	logger := observability.WithBookContext(
		observability.WithRequestContext(s.logger, req.RequestID), req.Book.Title, req.Book.ISBN)
	ctx = observability.WithRequestID(ctx, req.RequestID)

	messageID, err := s.queue.Enqueue(ctx, req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordEnqueueFailed()
		}
		logger.Error().Err(err).Msg("failed to enqueue book request")
		writeError(w, http.StatusInternalServerError, msgEnqueueFailed)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordRequestAccepted()
	}
	logger.Info().Str("message_id", messageID).Msg("book request queued")

	writeJSON(w, http.StatusOK, submitResponse{
		Message:   msgQueued,
		MessageID: messageID,
		RequestID: req.RequestID,
	})
}

// decodePayload parses a request body into an object. An empty body is an
// empty object. The second result is the client-facing error, if any.
func decodePayload(body []byte) (map[string]any, string) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, ""
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, msgInvalidJSON
	}
	if dec.More() {
		return nil, msgInvalidJSON
	}

	payload, ok := decoded.(map[string]any)
	if !ok {
		return nil, msgNotObject
	}
	return payload, ""
}

// listBooks handles GET /books. Query parameters: limit, start_key.
func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, msgInvalidLimit)
			return
		}
		limit = n
	}

	page, err := s.books.List(r.Context(), limit, query.Get("start_key"))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list books")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := listBooksResponse{
		Items:            make([]bookResponse, 0, len(page.Items)),
		LastEvaluatedKey: page.LastEvaluatedKey,
	}
	for _, item := range page.Items {
		resp.Items = append(resp.Items, domainItemToResponse(item))
	}

	writeJSON(w, http.StatusOK, resp)
}
