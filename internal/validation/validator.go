// Package validation turns inbound request payloads into queueable book requests.
//
// Validation is all-or-nothing: every violated field is reported and no
// request is constructed when any rule fails.
package validation

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/book-request-service/internal/domain"
	"github.com/helixir/book-request-service/internal/normalize"
)

// Field error messages returned to ingestion callers.
const (
	MsgTitleRequired    = "title is required and must be a non-empty string"
	MsgAuthorRequired   = "author is required and must be a non-empty string"
	MsgISBNUnusable     = "isbn provided but could not be normalized to 10 or 13 chars"
	MsgISBNInvalid      = "isbn looks invalid (expected 10 or 13 digits, last char may be X for ISBN-10)"
	MsgPriorityNegative = "priority must be >= 0"
	MsgPriorityNotInt   = "priority must be an integer"
)

var errNotInteger = errors.New("not an integer")

// bookFields carries the normalized fields through the struct validator.
type bookFields struct {
	Title  string `validate:"required"`
	Author string `validate:"required"`
	ISBN   string `validate:"omitempty,isbnshape"`
}

// Validator validates and canonicalizes book request payloads.
// It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
	newID    func() string
	now      func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithIDGenerator overrides the request ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(v *Validator) {
		v.newID = fn
	}
}

// WithClock overrides the clock used for requested_at.
func WithClock(fn func() time.Time) Option {
	return func(v *Validator) {
		v.now = fn
	}
}

// New creates a Validator. Request IDs default to random UUIDs.
func New(opts ...Option) *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails on an empty tag or nil func.
	_ = validate.RegisterValidation("isbnshape", func(fl validator.FieldLevel) bool {
		return normalize.IsValidISBN(fl.Field().String())
	})

	v := &Validator{
		validate: validate,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks payload and returns either a request or the ordered list of
// field errors. Rules are independent: title, author, isbn, then priority.
func (v *Validator) Validate(payload map[string]any) (*domain.BookRequest, domain.FieldErrors) {
	title, _ := normalize.String(payload["title"])
	author, _ := normalize.String(payload["author"])
	requestedBy, _ := normalize.String(payload["requested_by"])
	source, _ := normalize.String(payload["source"])

	isbnRaw, isbnSupplied := payload["isbn"]
	isbnSupplied = isbnSupplied && isbnRaw != nil
	isbn, isbnUsable := normalize.ISBN(isbnRaw)

	failed := v.structErrors(bookFields{Title: title, Author: author, ISBN: isbn})

	var errs domain.FieldErrors
	if failed["Title"] {
		errs = append(errs, domain.FieldError{Field: "title", Message: MsgTitleRequired})
	}
	if failed["Author"] {
		errs = append(errs, domain.FieldError{Field: "author", Message: MsgAuthorRequired})
	}
	if isbnSupplied {
		switch {
		case !isbnUsable:
			errs = append(errs, domain.FieldError{Field: "isbn", Message: MsgISBNUnusable})
		case failed["ISBN"]:
			errs = append(errs, domain.FieldError{Field: "isbn", Message: MsgISBNInvalid})
		}
	}

	var priority *int
	if raw, ok := payload["priority"]; ok && raw != nil {
		p, err := parsePriority(raw)
		switch {
		case err != nil:
			errs = append(errs, domain.FieldError{Field: "priority", Message: MsgPriorityNotInt})
		case p < 0:
			errs = append(errs, domain.FieldError{Field: "priority", Message: MsgPriorityNegative})
		default:
			priority = &p
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	book := domain.BookDetails{Title: title, Author: author}
	if isbnSupplied {
		book.ISBN = isbn
	}

	req := &domain.BookRequest{
		RequestID:   v.newID(),
		RequestedAt: v.now().UTC(),
		Book:        book,
		RequestedBy: requestedBy,
		Priority:    priority,
		Source:      source,
		Raw:         buildRaw(payload, book, requestedBy, priority, source),
	}
	return req, nil
}

// structErrors runs the struct rules and returns the set of failed field names.
func (v *Validator) structErrors(fields bookFields) map[string]bool {
	failed := make(map[string]bool)
	err := v.validate.Struct(fields)
	if err == nil {
		return failed
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			failed[fe.StructField()] = true
		}
	}
	return failed
}

// buildRaw copies the original payload and overlays the normalized fields.
func buildRaw(payload map[string]any, book domain.BookDetails, requestedBy string, priority *int, source string) map[string]any {
	raw := make(map[string]any, len(payload)+1)
	for k, val := range payload {
		raw[k] = val
	}

	bookMap := map[string]any{
		"title":  book.Title,
		"author": book.Author,
	}
	if book.ISBN != "" {
		bookMap["isbn"] = book.ISBN
	}
	raw["book"] = bookMap

	if requestedBy != "" {
		raw["requested_by"] = requestedBy
	}
	if priority != nil {
		raw["priority"] = *priority
	}
	if source != "" {
		raw["source"] = source
	}
	return raw
}

// parsePriority accepts integers, integral floats and integer strings.
func parsePriority(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			return 0, errNotInteger
		}
		return int(t), nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, errNotInteger
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, errNotInteger
		}
		return i, nil
	default:
		return 0, errNotInteger
	}
}
