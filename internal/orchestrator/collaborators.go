package orchestrator

import (
	"context"
	"path"
	"strings"
)

// Payload is the input uploaded when a job is submitted.
type Payload struct {
	Filename string
	Data     []byte
	Fields   map[string]string
}

// StatusSnapshot is the service's view of every job it holds at one instant.
// Entries are opaque job-location identifiers, usually URLs.
type StatusSnapshot struct {
	Pending    []string `json:"pending"`
	Processing []string `json:"processing"`
	Processed  []string `json:"processed"`
}

// Submitter registers a job with the remote service.
type Submitter interface {
	Submit(ctx context.Context, p Payload) error
}

// StatusProvider reports the remote service's current status snapshot.
type StatusProvider interface {
	Status(ctx context.Context) (StatusSnapshot, error)
}

// Fetcher downloads the result stored at a processed identifier.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Sink persists downloaded bytes and returns a storage reference.
type Sink interface {
	Persist(ctx context.Context, data []byte, name string) (string, error)
}

type SubmitFunc func(ctx context.Context, p Payload) error

func (f SubmitFunc) Submit(ctx context.Context, p Payload) error { return f(ctx, p) }

type StatusFunc func(ctx context.Context) (StatusSnapshot, error)

func (f StatusFunc) Status(ctx context.Context) (StatusSnapshot, error) { return f(ctx) }

type FetchFunc func(ctx context.Context, id string) ([]byte, error)

func (f FetchFunc) Fetch(ctx context.Context, id string) ([]byte, error) { return f(ctx, id) }

type SinkFunc func(ctx context.Context, data []byte, name string) (string, error)

func (f SinkFunc) Persist(ctx context.Context, data []byte, name string) (string, error) {
	return f(ctx, data, name)
}

// Matcher reports whether a status identifier belongs to the job with key.
type Matcher func(key, id string) bool

// SubstringMatcher matches any identifier containing key.
func SubstringMatcher(key, id string) bool {
	return strings.Contains(id, key)
}

// NameFunc derives the output name of the index-th persisted artifact.
type NameFunc func(index int, id string) string

func defaultName(_ int, id string) string {
	name := path.Base(id)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return name
}

// ArtifactRef points at one persisted result.
type ArtifactRef struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	Size       int    `json:"size"`
}

// match splits the snapshot entries belonging to key. busy is true while any
// of them is still listed as processing, even if it is also processed.
func (s StatusSnapshot) match(key string, m Matcher) (matching []string, busy bool) {
	seen := make(map[string]bool)
	for _, id := range s.Processed {
		if m(key, id) && !seen[id] {
			seen[id] = true
			matching = append(matching, id)
		}
	}
	for _, id := range s.Processing {
		if m(key, id) {
			return matching, true
		}
	}
	return matching, false
}
