package enrichment

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/book-request-service/internal/catalog"
	"github.com/helixir/book-request-service/internal/domain"
	"github.com/helixir/book-request-service/internal/observability"
)

// mockCatalog implements catalog.Catalog for testing.
type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) LookupByISBN(ctx context.Context, isbn string) catalog.Result[*catalog.IdentifierRecord] {
	args := m.Called(ctx, isbn)
	return args.Get(0).(catalog.Result[*catalog.IdentifierRecord])
}

func (m *mockCatalog) SearchByText(ctx context.Context, query string, limit int) catalog.Result[*catalog.SearchDocument] {
	args := m.Called(ctx, query, limit)
	return args.Get(0).(catalog.Result[*catalog.SearchDocument])
}

func noLookup() catalog.Result[*catalog.IdentifierRecord] {
	return catalog.Absent[*catalog.IdentifierRecord]()
}

func noSearch() catalog.Result[*catalog.SearchDocument] {
	return catalog.Absent[*catalog.SearchDocument]()
}

func duneDocument() *catalog.SearchDocument {
	raw := map[string]any{
		"title":              "Dune",
		"author_name":        []any{"Frank Herbert"},
		"first_publish_year": float64(1965),
		"isbn":               []any{"9780441013593"},
	}
	return &catalog.SearchDocument{
		Title:            "Dune",
		AuthorName:       raw["author_name"],
		FirstPublishYear: raw["first_publish_year"],
		ISBN:             raw["isbn"],
		Raw:              raw,
	}
}

func TestResolver_Resolve_NilRequest(t *testing.T) {
	r := NewResolver(&mockCatalog{}, zerolog.Nop(), nil)

	rec, err := r.Resolve(context.Background(), nil)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrNilRequest)
}

func TestResolver_Resolve_ByIdentifier(t *testing.T) {
	cat := &mockCatalog{}
	cat.On("LookupByISBN", mock.Anything, "9780132350884").Return(catalog.Found(&catalog.IdentifierRecord{
		Key:         "ISBN:9780132350884",
		Title:       "Clean Code",
		Authors:     []any{map[string]any{"name": "Robert C. Martin"}},
		PublishDate: "August 2008",
		Raw:         map[string]any{"title": "Clean Code"},
	}))

	payload := map[string]any{"title": "clean code", "author": "Uncle Bob", "isbn": "978-0-13-235088-4"}
	req := &domain.QueuedBook{
		RequestID: "req-1",
		Title:     "clean code",
		Author:    "Uncle Bob",
		ISBN:      "978-0-13-235088-4",
		Payload:   payload,
	}

	rec, err := NewResolver(cat, zerolog.Nop(), nil).Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeEnrichedByID, rec.Outcome)
	assert.Equal(t, "Clean Code", rec.Title)
	assert.Equal(t, []string{"Robert C. Martin"}, rec.Authors)
	require.NotNil(t, rec.PublishYear)
	assert.Equal(t, 2008, *rec.PublishYear)
	assert.Equal(t, "9780132350884", rec.ISBN)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, payload, rec.SourcePayload)
	assert.Equal(t, map[string]any{"title": "Clean Code"}, rec.CatalogPayload)

	cat.AssertExpectations(t)
	cat.AssertNotCalled(t, "SearchByText", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_Resolve_ByIdentifierFallsBackToRequestFields(t *testing.T) {
	cat := &mockCatalog{}
	cat.On("LookupByISBN", mock.Anything, "0198534531").Return(catalog.Found(&catalog.IdentifierRecord{
		Key: "ISBN:0198534531",
		Raw: map[string]any{},
	}))

	req := &domain.QueuedBook{RequestID: "req-2", Title: "Sets", Author: "Someone", ISBN: "0198534531"}

	rec, err := NewResolver(cat, zerolog.Nop(), nil).Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeEnrichedByID, rec.Outcome)
	assert.Equal(t, "Sets", rec.Title)
	assert.Equal(t, []string{"Someone"}, rec.Authors)
	assert.Nil(t, rec.PublishYear)
	assert.Equal(t, "0198534531", rec.ISBN)
}

func TestResolver_Resolve_BySearch(t *testing.T) {
	cat := &mockCatalog{}
	cat.On("SearchByText", mock.Anything, "Dune Frank Herbert", 0).Return(catalog.Found(duneDocument()))

	req := &domain.QueuedBook{
		RequestID: "req-3",
		Title:     "Dune",
		Author:    "Frank Herbert",
		Payload:   map[string]any{"title": "Dune", "author": "Frank Herbert"},
	}

	rec, err := NewResolver(cat, zerolog.Nop(), nil).Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeEnrichedBySearch, rec.Outcome)
	assert.Equal(t, "Dune", rec.Title)
	assert.Equal(t, []string{"Frank Herbert"}, rec.Authors)
	require.NotNil(t, rec.PublishYear)
	assert.Equal(t, 1965, *rec.PublishYear)
	assert.Equal(t, "9780441013593", rec.ISBN)

	item := domain.NewPersistedItem(rec)
	assert.Equal(t, "9780441013593", item.PK)
	require.NotNil(t, item.ISBN)
	assert.Equal(t, "9780441013593", *item.ISBN)

	cat.AssertNotCalled(t, "LookupByISBN", mock.Anything, mock.Anything)
}

func TestResolver_Resolve_SearchAuthorFallbacks(t *testing.T) {
	t.Run("structured authors when flat names missing", func(t *testing.T) {
		cat := &mockCatalog{}
		cat.On("SearchByText", mock.Anything, "Kindred", 0).Return(catalog.Found(&catalog.SearchDocument{
			Title:   "Kindred",
			Authors: []any{map[string]any{"name": "Octavia E. Butler"}},
			Raw:     map[string]any{},
		}))

		rec, err := NewResolver(cat, zerolog.Nop(), nil).Resolve(context.Background(), &domain.QueuedBook{RequestID: "r", Title: "Kindred"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Octavia E. Butler"}, rec.Authors)
		assert.Empty(t, rec.ISBN)
	})

	t.Run("request author when document has none", func(t *testing.T) {
		cat := &mockCatalog{}
		cat.On("SearchByText", mock.Anything, "Kindred Butler", 0).Return(catalog.Found(&catalog.SearchDocument{
			PublishDate: "June 1979",
			Raw:         map[string]any{},
		}))

		rec, err := NewResolver(cat, zerolog.Nop(), nil).Resolve(context.Background(), &domain.QueuedBook{RequestID: "r", Title: "Kindred", Author: "Butler"})
		require.NoError(t, err)
		assert.Equal(t, "Kindred", rec.Title)
		assert.Equal(t, []string{"Butler"}, rec.Authors)
		require.NotNil(t, rec.PublishYear)
		assert.Equal(t, 1979, *rec.PublishYear)
	})
}

func TestResolver_Resolve_IdentifierMissFallsBackToSearch(t *testing.T) {
	cat := &mockCatalog{}
	cat.On("LookupByISBN", mock.Anything, "9780441013593").Return(noLookup())
	cat.On("SearchByText", mock.Anything, "Dune Frank Herbert", 0).Return(catalog.Found(duneDocument()))

	req := &domain.QueuedBook{RequestID: "req-4", Title: "Dune", Author: "Frank Herbert", ISBN: "9780441013593"}

	rec, err := NewResolver(cat, zerolog.Nop(), nil).Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeEnrichedBySearch, rec.Outcome)
	cat.AssertExpectations(t)
}

func TestResolver_Resolve_TransportErrorsAreAbsorbed(t *testing.T) {
	cat := &mockCatalog{}
	cat.On("LookupByISBN", mock.Anything, "0198534531").
		Return(catalog.TransportError[*catalog.IdentifierRecord](errors.New("connection refused")))
	cat.On("SearchByText", mock.Anything, "Lost Title Some Author", 0).
		Return(catalog.TransportError[*catalog.SearchDocument](context.DeadlineExceeded))

	metrics := observability.NewMetrics("test_enrichment_transport")
	payload := map[string]any{"title": "Lost Title", "author": "Some Author", "isbn": "0-19-853453-1"}
	req := &domain.QueuedBook{
		RequestID: "req-5",
		Title:     "Lost Title",
		Author:    "Some Author",
		ISBN:      "0-19-853453-1",
		Payload:   payload,
	}

	rec, err := NewResolver(cat, zerolog.Nop(), metrics).Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeUnenriched, rec.Outcome)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CatalogRequestsTotal.WithLabelValues(catalog.EndpointBooks, "transport_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CatalogRequestsTotal.WithLabelValues(catalog.EndpointSearch, "transport_error")))
	cat.AssertExpectations(t)
}

func TestResolver_Resolve_UnenrichedUsesFallbackKey(t *testing.T) {
	cat := &mockCatalog{}
	cat.On("LookupByISBN", mock.Anything, "0198534531").Return(noLookup())
	cat.On("SearchByText", mock.Anything, "Obscure Monograph Jane Doe", 0).Return(noSearch())

	payload := map[string]any{"title": "Obscure Monograph", "author": "Jane Doe", "isbn": "0198534531"}
	req := &domain.QueuedBook{
		RequestID: "req-6",
		Title:     "Obscure Monograph",
		Author:    "Jane Doe",
		ISBN:      "0198534531",
		Payload:   payload,
	}

	rec, err := NewResolver(cat, zerolog.Nop(), nil).Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeUnenriched, rec.Outcome)
	assert.Equal(t, "Obscure Monograph", rec.Title)
	assert.Equal(t, []string{"Jane Doe"}, rec.Authors)
	assert.Nil(t, rec.PublishYear)
	assert.Nil(t, rec.CatalogPayload)

	item := domain.NewPersistedItem(rec)
	assert.Equal(t, "Obscure Monograph#req-6", item.PK)
	assert.Nil(t, item.ISBN)
	assert.Equal(t, "0198534531", item.Raw["isbn"])
}

func TestResolver_Resolve_NothingToSearch(t *testing.T) {
	cat := &mockCatalog{}

	rec, err := NewResolver(cat, zerolog.Nop(), nil).Resolve(context.Background(), &domain.QueuedBook{RequestID: "req-7"})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeUnenriched, rec.Outcome)
	assert.Equal(t, domain.UnknownTitle, rec.Title)
	assert.Equal(t, []string{}, rec.Authors)
	cat.AssertNotCalled(t, "LookupByISBN", mock.Anything, mock.Anything)
	cat.AssertNotCalled(t, "SearchByText", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_Resolve_Idempotent(t *testing.T) {
	cat := &mockCatalog{}
	cat.On("SearchByText", mock.Anything, "Dune Frank Herbert", 0).Return(catalog.Found(duneDocument()))

	req := &domain.QueuedBook{RequestID: "req-8", Title: "Dune", Author: "Frank Herbert"}
	r := NewResolver(cat, zerolog.Nop(), nil)

	first, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.NewPersistedItem(first), domain.NewPersistedItem(second))
	cat.AssertNumberOfCalls(t, "SearchByText", 2)
}

func TestResolver_Resolve_LogsCarryDeliveryIDs(t *testing.T) {
	cat := &mockCatalog{}
	cat.On("SearchByText", mock.Anything, "Lost Title", 0).
		Return(catalog.TransportError[*catalog.SearchDocument](errors.New("connection refused")))

	req := &domain.QueuedBook{RequestID: "req-8", Title: "Lost Title"}

	t.Run("ids from context", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := observability.WithMessageID(observability.WithRequestID(context.Background(), "req-8"), "book-requests-2-41")

		_, err := NewResolver(cat, zerolog.New(&buf), nil).Resolve(ctx, req)
		require.NoError(t, err)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(firstLine(buf.Bytes()), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "catalog request failed, treating as no match", entry["message"])
		assert.Equal(t, "req-8", entry["request_id"])
		assert.Equal(t, "book-requests-2-41", entry["message_id"])
	})

	t.Run("request id from the request without context", func(t *testing.T) {
		var buf bytes.Buffer

		_, err := NewResolver(cat, zerolog.New(&buf), nil).Resolve(context.Background(), req)
		require.NoError(t, err)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(firstLine(buf.Bytes()), &entry))
		assert.Equal(t, "req-8", entry["request_id"])
		assert.NotContains(t, entry, "message_id")
	})
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}
