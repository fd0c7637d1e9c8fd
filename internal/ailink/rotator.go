package ailink

import (
	"errors"
	"strings"
	"sync"
)

// ErrExhaustedPool is returned when a rotator is built without any usable credential.
var ErrExhaustedPool = errors.New("credential pool is empty")

// Credential is a single usable provider key.
type Credential struct {
	Label  string
	APIKey string
}

// KeyRotator hands out credentials in round-robin order.
//
// The pool is fixed at construction. Next is safe for concurrent use and two
// consecutive calls never return the same credential when the pool has more
// than one entry.
type KeyRotator struct {
	mu    sync.Mutex
	pool  []Credential
	index int
}

// NewKeyRotator builds a rotator over creds, skipping entries with a blank key.
func NewKeyRotator(creds []Credential) (*KeyRotator, error) {
	pool := make([]Credential, 0, len(creds))
	for _, cred := range creds {
		if strings.TrimSpace(cred.APIKey) == "" {
			continue
		}
		pool = append(pool, cred)
	}
	if len(pool) == 0 {
		return nil, ErrExhaustedPool
	}
	return &KeyRotator{pool: pool}, nil
}

// Next returns the credential at the cursor and advances it.
func (r *KeyRotator) Next() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred := r.pool[r.index]
	r.index = (r.index + 1) % len(r.pool)
	return cred
}

// Len returns the pool size.
func (r *KeyRotator) Len() int {
	return len(r.pool)
}

// Labels returns credential labels in rotation order.
func (r *KeyRotator) Labels() []string {
	labels := make([]string, 0, len(r.pool))
	for _, cred := range r.pool {
		labels = append(labels, cred.Label)
	}
	return labels
}

// Credentials returns a copy of the pool in rotation order.
func (r *KeyRotator) Credentials() []Credential {
	return append([]Credential(nil), r.pool...)
}
