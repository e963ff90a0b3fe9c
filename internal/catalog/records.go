package catalog

import (
	"github.com/helixir/book-request-service/internal/normalize"
)

// IdentifierRecord is an entry of the identifier-keyed books endpoint,
// keyed by "ISBN:{isbn}". Author entries are usually objects with a name.
type IdentifierRecord struct {
	Key         string
	Title       string
	Authors     any
	PublishDate any
	Raw         map[string]any
}

// SearchDocument is the first document of a free-text search. Author names
// usually arrive as a flat list of strings and identifiers as a list.
type SearchDocument struct {
	Title            string
	AuthorName       any
	Authors          any
	FirstPublishYear any
	PublishDate      any
	ISBN             any
	Raw              map[string]any
}

func newIdentifierRecord(key string, raw map[string]any) *IdentifierRecord {
	title, _ := normalize.String(raw["title"])
	return &IdentifierRecord{
		Key:         key,
		Title:       title,
		Authors:     raw["authors"],
		PublishDate: raw["publish_date"],
		Raw:         raw,
	}
}

func newSearchDocument(raw map[string]any) *SearchDocument {
	title, _ := normalize.String(raw["title"])
	return &SearchDocument{
		Title:            title,
		AuthorName:       raw["author_name"],
		Authors:          raw["authors"],
		FirstPublishYear: raw["first_publish_year"],
		PublishDate:      raw["publish_date"],
		ISBN:             raw["isbn"],
		Raw:              raw,
	}
}
