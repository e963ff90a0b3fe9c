// Package observability provides logging and metrics support for the book
// request service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger.Info().Str("request_id", reqID).Msg("request queued")
//
// Scope a logger to a queue delivery:
//
//	logger = observability.WithMessageContext(logger, msgID, topic, partition, offset)
//
// # Metrics
//
//	metrics := observability.NewMetrics("book_request")
//	metrics.RecordCatalogRequest("books", "found", 0.12)
//	metrics.RecordMessageProcessed("enriched_by_id", 0.3)
//
// # Standard Fields
//
//   - request_id: book request identifier assigned at validation
//   - message_id: queue message identifier
//   - topic, partition, offset: queue delivery coordinates
//   - title, isbn: book being processed
//   - component: emitting subsystem
//
// All components are safe for concurrent use from multiple goroutines.
package observability
