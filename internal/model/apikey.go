package model

import "time"

// APIKeyRecord is one row of the API key table. Records are built once at
// startup and never mutated afterwards.
type APIKeyRecord struct {
	Key        string    `json:"-"`
	ClientName string    `json:"client_name"`
	Expiration time.Time `json:"expiration"` // UTC midnight of the expiration date
}

// ExpiresOn returns the expiration as a YYYY-MM-DD string.
func (r APIKeyRecord) ExpiresOn() string {
	return r.Expiration.UTC().Format(time.DateOnly)
}

// ExpiredAt reports whether the key is expired at the given instant. A key is
// still valid at exactly its expiration instant.
func (r APIKeyRecord) ExpiredAt(now time.Time) bool {
	return now.UTC().After(r.Expiration)
}
