package ports

import "context"

// ListStore loads and persists a newline-delimited list of opaque entries
// (session tokens, proxy URLs, private keys). Blank lines are excluded on
// load; Save overwrites the stored list wholesale.
type ListStore interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, entries []string) error
}
