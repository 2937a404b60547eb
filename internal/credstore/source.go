package credstore

import "context"

// Source reads a single static credential from operator-managed storage.
type Source interface {
	// Read returns the credential material. Returns error if it is missing
	// or empty.
	Read(ctx context.Context) (string, error)
}
