package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// CacheKey identifies the cached result of one query against one endpoint.
type CacheKey struct {
	// Endpoint is the SPARQL endpoint URL.
	Endpoint string

	// Query is the exact query text.
	Query string
}

// String generates a deterministic cache key string.
// Format: wdqs:<host><path>:<sha256(query) prefix>
//
// Example:
//
//	wdqs:query.wikidata.org/sparql:3f2a9c0d1e4b5a6f
func (k CacheKey) String() string {
	parts := []string{"wdqs"}

	endpoint := strings.TrimSpace(k.Endpoint)
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host + u.Path
	}
	endpoint = strings.Trim(endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	sum := sha256.Sum256([]byte(strings.TrimSpace(k.Query)))
	parts = append(parts, hex.EncodeToString(sum[:8]))

	return strings.Join(parts, ":")
}
