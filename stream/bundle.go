// Package stream decodes FHIR Bundles and NDJSON incrementally, yielding one
// resource at a time instead of holding a whole search page in memory.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/gofhir/retrieve"
)

// Bundle search modes.
const (
	SearchModeMatch   = "match"
	SearchModeInclude = "include"
	SearchModeOutcome = "outcome"
)

// Entry is one decoded bundle entry.
type Entry struct {
	// Index is the position of the entry in the bundle
	Index int

	// FullURL is the fullUrl of the entry (if present)
	FullURL string

	// SearchMode is entry.search.mode (if present)
	SearchMode string

	// Resource is entry.resource, nil when the entry has none
	Resource retrieve.Resource
}

// IsMatch reports whether the entry is a search match. Entries without a
// search mode count as matches.
func (e Entry) IsMatch() bool {
	return e.Resource != nil && (e.SearchMode == "" || e.SearchMode == SearchModeMatch)
}

// Link is a Bundle.link element.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Page holds the Bundle fields other than entry.
type Page struct {
	Type string
	// Total is Bundle.total, or -1 when absent.
	Total   int
	Links   []Link
	Entries int
}

// Link returns the url of the link with the given relation, or "".
func (p Page) Link(relation string) string {
	for _, l := range p.Links {
		if l.Relation == relation {
			return l.URL
		}
	}
	return ""
}

// Next returns the url of the next page, or "".
func (p Page) Next() string {
	return p.Link("next")
}

// BundleReader decodes one Bundle from a reader.
type BundleReader struct {
	dec  *json.Decoder
	page Page
	used bool
}

// NewBundleReader creates a reader over r. Numbers are decoded as
// json.Number so decimal precision survives.
func NewBundleReader(r io.Reader) *BundleReader {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &BundleReader{dec: dec, page: Page{Total: -1}}
}

// Page returns the Bundle fields seen so far. It is complete once Entries
// has been fully consumed, since link and total may follow the entries.
func (b *BundleReader) Page() Page {
	return b.page
}

// Entries yields the entries of the bundle in order. A decoding error ends
// the sequence. Entries can be ranged over once.
func (b *BundleReader) Entries(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if b.used {
			yield(Entry{Index: -1}, errors.New("bundle already read"))
			return
		}
		b.used = true
		if err := b.readBundle(ctx, yield); err != nil {
			yield(Entry{Index: -1}, err)
		}
	}
}

// errStopped marks a consumer that stopped ranging.
var errStopped = errors.New("stopped")

func (b *BundleReader) readBundle(ctx context.Context, yield func(Entry, error) bool) error {
	if err := expectDelim(b.dec, '{'); err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}

	for b.dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}

		token, err := b.dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read field: %w", err)
		}
		field, _ := token.(string)

		switch field {
		case "resourceType":
			var rt string
			if err := b.dec.Decode(&rt); err != nil {
				return fmt.Errorf("failed to read resourceType: %w", err)
			}
			if rt != "Bundle" {
				return fmt.Errorf("expected Bundle, got %s", rt)
			}
		case "type":
			if err := b.dec.Decode(&b.page.Type); err != nil {
				return fmt.Errorf("failed to read type: %w", err)
			}
		case "total":
			if err := b.dec.Decode(&b.page.Total); err != nil {
				return fmt.Errorf("failed to read total: %w", err)
			}
		case "link":
			if err := b.dec.Decode(&b.page.Links); err != nil {
				return fmt.Errorf("failed to read link: %w", err)
			}
		case "entry":
			err := b.readEntries(ctx, yield)
			if errors.Is(err, errStopped) {
				return nil
			}
			if err != nil {
				return err
			}
		default:
			// Skip other fields
			var skip json.RawMessage
			if err := b.dec.Decode(&skip); err != nil {
				return fmt.Errorf("failed to skip field %s: %w", field, err)
			}
		}
	}
	return nil
}

type rawEntry struct {
	FullURL  string            `json:"fullUrl"`
	Resource retrieve.Resource `json:"resource"`
	Search   *struct {
		Mode string `json:"mode"`
	} `json:"search"`
}

func (b *BundleReader) readEntries(ctx context.Context, yield func(Entry, error) bool) error {
	if err := expectDelim(b.dec, '['); err != nil {
		return fmt.Errorf("failed to read entry array: %w", err)
	}

	for b.dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var raw rawEntry
		if err := b.dec.Decode(&raw); err != nil {
			return fmt.Errorf("failed to decode entry %d: %w", b.page.Entries, err)
		}
		e := Entry{Index: b.page.Entries, FullURL: raw.FullURL, Resource: raw.Resource}
		if raw.Search != nil {
			e.SearchMode = raw.Search.Mode
		}
		b.page.Entries++
		if !yield(e, nil) {
			return errStopped
		}
	}

	// closing bracket
	if _, err := b.dec.Token(); err != nil {
		return fmt.Errorf("failed to close entry array: %w", err)
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	token, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %v, got %v", want, token)
	}
	return nil
}

// Matches yields the resources of the search matches of a bundle. page, if
// not nil, receives the Bundle fields once the sequence ends.
func Matches(ctx context.Context, r io.Reader, page *Page) iter.Seq2[retrieve.Resource, error] {
	return func(yield func(retrieve.Resource, error) bool) {
		br := NewBundleReader(r)
		defer func() {
			if page != nil {
				*page = br.Page()
			}
		}()
		for e, err := range br.Entries(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !e.IsMatch() {
				continue
			}
			if !yield(e.Resource, nil) {
				return
			}
		}
	}
}

// NDJSON yields the resources of a newline-delimited JSON stream. Bundles in
// the stream are not unwrapped.
func NDJSON(ctx context.Context, r io.Reader) iter.Seq2[retrieve.Resource, error] {
	return func(yield func(retrieve.Resource, error) bool) {
		dec := json.NewDecoder(r)
		dec.UseNumber()
		for line := 1; ; line++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			var res retrieve.Resource
			err := dec.Decode(&res)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("failed to decode resource %d: %w", line, err))
				return
			}
			if !yield(res, nil) {
				return
			}
		}
	}
}
