package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/book-request-service/internal/domain"
	"github.com/helixir/book-request-service/internal/observability"
	"github.com/helixir/book-request-service/internal/queue"
	"github.com/helixir/book-request-service/internal/repository"
)

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Resolve(ctx context.Context, req *domain.QueuedBook) (*domain.EnrichedRecord, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, *domain.QueuedBook) *domain.EnrichedRecord); ok {
		return fn(ctx, req), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EnrichedRecord), args.Error(1)
}

// memStore is an in-memory BookRepository.
type memStore struct {
	mu      sync.Mutex
	items   map[string]*domain.PersistedItem
	writes  int
	failPKs map[string]error
	getErr  error
}

var _ repository.BookRepository = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{items: map[string]*domain.PersistedItem{}, failPKs: map[string]error{}}
}

func (s *memStore) Upsert(_ context.Context, item *domain.PersistedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failPKs[item.PK]; err != nil {
		return err
	}
	s.items[item.PK] = item
	s.writes++
	return nil
}

func (s *memStore) Get(_ context.Context, pk string) (*domain.PersistedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	item, ok := s.items[pk]
	if !ok {
		return nil, domain.NewNotFoundError("book", pk)
	}
	return item, nil
}

func (s *memStore) List(_ context.Context, _ int, _ string) (*repository.BookPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	page := &repository.BookPage{}
	for _, k := range keys {
		page.Items = append(page.Items, s.items[k])
	}
	return page, nil
}

func (s *memStore) Backend() string { return "memory" }

// passthrough echoes the queued request as an unenriched record.
func passthrough(_ context.Context, req *domain.QueuedBook) *domain.EnrichedRecord {
	authors := []string{}
	if req.Author != "" {
		authors = []string{req.Author}
	}
	return &domain.EnrichedRecord{
		RequestID:     req.RequestID,
		Title:         req.Title,
		Authors:       authors,
		Outcome:       domain.OutcomeUnenriched,
		SourcePayload: req.Payload,
	}
}

// logEntries decodes one JSON log line per entry.
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func findEntry(entries []map[string]any, msg string) map[string]any {
	for _, e := range entries {
		if e["message"] == msg {
			return e
		}
	}
	return nil
}

func message(offset int64, body string) queue.Message {
	return queue.Message{Topic: "book-requests", Partition: 0, Offset: offset, Value: []byte(body)}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		msg       queue.Message
		wantID    string
		wantTitle string
		wantISBN  string
	}{
		{
			name:      "validator output with nested book",
			msg:       message(0, `{"request_id":"req-1","book":{"title":" Dune ","author":"Frank Herbert","isbn":"978-0441013593"},"raw":{}}`),
			wantID:    "req-1",
			wantTitle: "Dune",
			wantISBN:  "978-0441013593",
		},
		{
			name:      "top level fields",
			msg:       message(0, `{"title":"Dune","author":"Frank Herbert","request_id":"req-2"}`),
			wantID:    "req-2",
			wantTitle: "Dune",
		},
		{
			name:      "request id inside book",
			msg:       message(0, `{"book":{"title":"Dune","request_id":"req-3"}}`),
			wantID:    "req-3",
			wantTitle: "Dune",
		},
		{
			name: "request id from message key",
			msg: queue.Message{
				Topic: "book-requests", Key: []byte("req-4"),
				Value: []byte(`{"title":"Dune"}`),
			},
			wantID:    "req-4",
			wantTitle: "Dune",
		},
		{
			name:      "request id from position",
			msg:       queue.Message{Topic: "book-requests", Partition: 3, Offset: 42, Value: []byte(`{"title":"Dune"}`)},
			wantID:    "book-requests-3-42",
			wantTitle: "Dune",
		},
		{
			name:      "numeric isbn is stringified",
			msg:       message(0, `{"request_id":"req-5","title":"Dune","isbn":9780441013593}`),
			wantID:    "req-5",
			wantTitle: "Dune",
			wantISBN:  "9780441013593",
		},
		{
			name:      "book that is not an object falls back to top level",
			msg:       message(0, `{"request_id":"req-6","book":"Dune","title":"Emma"}`),
			wantID:    "req-6",
			wantTitle: "Emma",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book, err := Decode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, book.RequestID)
			assert.Equal(t, tt.wantTitle, book.Title)
			assert.Equal(t, tt.wantISBN, book.ISBN)
			assert.NotNil(t, book.Payload)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `{"title":`,
		"json array": `[1,2]`,
		"json null":  `null`,
		"empty":      ``,
	} {
		t.Run(name, func(t *testing.T) {
			book, err := Decode(message(9, body))
			assert.Nil(t, book)
			assert.ErrorIs(t, err, domain.ErrMalformedMessage)

			var malformed *domain.MalformedMessageError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, "book-requests-0-9", malformed.MessageID)
		})
	}
}

func TestProcessor_HandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("persists the enriched record", func(t *testing.T) {
		enricher := &mockEnricher{}
		store := newMemStore()
		metrics := observability.NewMetrics("test_pipeline_success")
		year := 1965
		enricher.On("Resolve", mock.Anything, mock.MatchedBy(func(b *domain.QueuedBook) bool {
			return b.RequestID == "req-1" && b.ISBN == "9780441013593"
		})).Return(&domain.EnrichedRecord{
			RequestID:     "req-1",
			Title:         "Dune",
			Authors:       []string{"Frank Herbert"},
			PublishYear:   &year,
			ISBN:          "9780441013593",
			Outcome:       domain.OutcomeEnrichedByID,
			SourcePayload: map[string]any{"request_id": "req-1"},
		}, nil)

		p := NewProcessor(enricher, store, 2, metrics, zerolog.Nop())
		err := p.HandleMessage(ctx, message(0, `{"request_id":"req-1","book":{"title":"Dune","author":"Frank Herbert","isbn":"9780441013593"}}`))
		require.NoError(t, err)

		item, err := store.Get(ctx, "9780441013593")
		require.NoError(t, err)
		assert.Equal(t, "Dune", item.Title)
		assert.Equal(t, domain.OutcomeEnrichedByID, item.Enrichment)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RecordsPersisted.WithLabelValues("memory")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MessagesProcessed.WithLabelValues("enriched_by_id")))
		enricher.AssertExpectations(t)
	})

	t.Run("malformed body skips enrichment", func(t *testing.T) {
		enricher := &mockEnricher{}
		store := newMemStore()
		metrics := observability.NewMetrics("test_pipeline_malformed")

		p := NewProcessor(enricher, store, 1, metrics, zerolog.Nop())
		err := p.HandleMessage(ctx, message(3, `not json`))
		assert.ErrorIs(t, err, domain.ErrMalformedMessage)

		enricher.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
		assert.Zero(t, store.writes)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MessagesFailed.WithLabelValues(ReasonMalformed)))
	})

	t.Run("store failure is a persistence error", func(t *testing.T) {
		enricher := &mockEnricher{}
		store := newMemStore()
		store.failPKs["Dune#req-1"] = errors.New("disk full")
		metrics := observability.NewMetrics("test_pipeline_persist_fail")
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(func(ctx context.Context, req *domain.QueuedBook) *domain.EnrichedRecord {
			return passthrough(ctx, req)
		}, nil)

		p := NewProcessor(enricher, store, 1, metrics, zerolog.Nop())
		err := p.HandleMessage(ctx, message(0, `{"request_id":"req-1","title":"Dune","author":"Frank Herbert"}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPersistence)

		var persistErr *domain.PersistenceError
		require.ErrorAs(t, err, &persistErr)
		assert.Equal(t, "memory", persistErr.Backend)
		assert.Equal(t, "Dune#req-1", persistErr.PK)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("memory")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MessagesFailed.WithLabelValues(ReasonPersistence)))
	})

	t.Run("resolver error fails the message", func(t *testing.T) {
		enricher := &mockEnricher{}
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(nil, errors.New("nil request"))

		p := NewProcessor(enricher, newMemStore(), 1, nil, zerolog.Nop())
		err := p.HandleMessage(ctx, message(0, `{"title":"Dune"}`))
		assert.ErrorContains(t, err, "nil request")
	})

	t.Run("redelivery converges on one item", func(t *testing.T) {
		enricher := &mockEnricher{}
		store := newMemStore()
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(func(ctx context.Context, req *domain.QueuedBook) *domain.EnrichedRecord {
			return passthrough(ctx, req)
		}, nil)

		p := NewProcessor(enricher, store, 1, nil, zerolog.Nop())
		msg := message(5, `{"title":"Obscure Monograph","author":"A. Nonymous"}`)
		require.NoError(t, p.HandleMessage(ctx, msg))
		require.NoError(t, p.HandleMessage(ctx, msg))

		assert.Len(t, store.items, 1)
		_, err := store.Get(ctx, "Obscure Monograph#book-requests-0-5")
		assert.NoError(t, err)
	})

	t.Run("overwrite with a changed outcome is logged", func(t *testing.T) {
		enricher := &mockEnricher{}
		store := newMemStore()
		byID := &domain.EnrichedRecord{
			RequestID: "req-2", Title: "Dune", Authors: []string{"Frank Herbert"},
			ISBN: "9780441013593", Outcome: domain.OutcomeEnrichedByID,
		}
		bySearch := &domain.EnrichedRecord{
			RequestID: "req-2", Title: "Dune", Authors: []string{"Frank Herbert"},
			ISBN: "9780441013593", Outcome: domain.OutcomeEnrichedBySearch,
		}
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(byID, nil).Once()
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(bySearch, nil).Once()

		var buf bytes.Buffer
		p := NewProcessor(enricher, store, 1, nil, zerolog.New(&buf))
		msg := message(7, `{"request_id":"req-2","book":{"title":"Dune","author":"Frank Herbert","isbn":"9780441013593"}}`)

		require.NoError(t, p.HandleMessage(ctx, msg))
		assert.Nil(t, findEntry(logEntries(t, &buf), "overwriting stored book"))

		require.NoError(t, p.HandleMessage(ctx, msg))
		entry := findEntry(logEntries(t, &buf), "overwriting stored book")
		require.NotNil(t, entry)
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "9780441013593", entry["pk"])
		assert.Equal(t, "enriched_by_id", entry["previous_enrichment"])
		assert.Equal(t, "enriched_by_search", entry["enrichment"])
		assert.Equal(t, "req-2", entry["request_id"])
		assert.Equal(t, "book-requests-0-7", entry["message_id"])

		item, err := store.Get(ctx, "9780441013593")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeEnrichedBySearch, item.Enrichment)
	})

	t.Run("failed lookup does not block the write", func(t *testing.T) {
		enricher := &mockEnricher{}
		store := newMemStore()
		store.getErr = errors.New("connection reset")
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(func(ctx context.Context, req *domain.QueuedBook) *domain.EnrichedRecord {
			return passthrough(ctx, req)
		}, nil)

		var buf bytes.Buffer
		p := NewProcessor(enricher, store, 1, nil, zerolog.New(&buf))
		require.NoError(t, p.HandleMessage(ctx, message(8, `{"request_id":"req-3","title":"Emma","author":"Jane Austen"}`)))

		assert.Equal(t, 1, store.writes)
		entry := findEntry(logEntries(t, &buf), "could not check for a stored book")
		require.NotNil(t, entry)
		assert.Equal(t, "Emma#req-3", entry["pk"])
		assert.Equal(t, "req-3", entry["request_id"])
	})
}

func TestProcessor_HandleBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("all messages succeed", func(t *testing.T) {
		enricher := &mockEnricher{}
		store := newMemStore()
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(func(ctx context.Context, req *domain.QueuedBook) *domain.EnrichedRecord {
			return passthrough(ctx, req)
		}, nil)

		p := NewProcessor(enricher, store, 3, nil, zerolog.Nop())
		batch := []queue.Message{
			message(0, `{"request_id":"a","title":"A"}`),
			message(1, `{"request_id":"b","title":"B"}`),
			message(2, `{"request_id":"c","title":"C"}`),
		}
		require.NoError(t, p.HandleBatch(ctx, batch))
		assert.Len(t, store.items, 3)
	})

	t.Run("one bad message fails the batch", func(t *testing.T) {
		enricher := &mockEnricher{}
		store := newMemStore()
		store.failPKs["C#c"] = errors.New("throttled")
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(func(ctx context.Context, req *domain.QueuedBook) *domain.EnrichedRecord {
			return passthrough(ctx, req)
		}, nil)

		p := NewProcessor(enricher, store, 3, nil, zerolog.Nop())
		batch := []queue.Message{
			message(0, `{"request_id":"a","title":"A"}`),
			message(1, `{oops`),
			message(2, `{"request_id":"c","title":"C"}`),
		}
		err := p.HandleBatch(ctx, batch)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrMalformedMessage)
		assert.ErrorIs(t, err, domain.ErrPersistence)

		// The good message is stored; redelivery overwrites it.
		_, getErr := store.Get(ctx, "A#a")
		assert.NoError(t, getErr)
	})

	t.Run("parallelism is bounded by workers", func(t *testing.T) {
		var inFlight, peak int32
		enricher := &mockEnricher{}
		enricher.On("Resolve", mock.Anything, mock.Anything).Return(func(ctx context.Context, req *domain.QueuedBook) *domain.EnrichedRecord {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return passthrough(ctx, req)
		}, nil)

		p := NewProcessor(enricher, newMemStore(), 2, nil, zerolog.Nop())
		batch := make([]queue.Message, 6)
		for i := range batch {
			batch[i] = message(int64(i), `{"title":"T"}`)
		}
		require.NoError(t, p.HandleBatch(ctx, batch))
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	})

	t.Run("empty batch", func(t *testing.T) {
		p := NewProcessor(&mockEnricher{}, newMemStore(), 0, nil, zerolog.Nop())
		assert.NoError(t, p.HandleBatch(ctx, nil))
		assert.Equal(t, 1, p.workers)
	})
}
