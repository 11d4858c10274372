package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

type requestKey struct {
	incidentID int64
	requestID  string
}

// RequestIndex remembers (incident, request_id) pairs known to be correlated.
// Only positives are stored: correlation edges are never removed, so an
// entry can never become wrong. A miss means "ask the store".
type RequestIndex struct {
	entries *lru.Cache[requestKey, struct{}]
}

// NewRequestIndex creates an index bounded to size entries. A size of zero
// or less disables caching.
func NewRequestIndex(size int) (*RequestIndex, error) {
	if size <= 0 {
		return &RequestIndex{}, nil
	}
	entries, err := lru.New[requestKey, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &RequestIndex{entries: entries}, nil
}

// Contains reports whether the pair is known to be correlated.
func (r *RequestIndex) Contains(incidentID int64, requestID string) bool {
	if r == nil || r.entries == nil || requestID == "" {
		return false
	}
	return r.entries.Contains(requestKey{incidentID: incidentID, requestID: requestID})
}

// Add records a correlated pair.
func (r *RequestIndex) Add(incidentID int64, requestID string) {
	if r == nil || r.entries == nil || requestID == "" {
		return
	}
	r.entries.Add(requestKey{incidentID: incidentID, requestID: requestID}, struct{}{})
}

// Len returns the number of cached pairs.
func (r *RequestIndex) Len() int {
	if r == nil || r.entries == nil {
		return 0
	}
	return r.entries.Len()
}
