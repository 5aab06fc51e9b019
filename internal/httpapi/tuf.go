package httpapi

import (
	"sync/atomic"

	"github.com/env-architect/architect/internal/metadataservice"
)

// TUFCache holds the most recently generated signed metadata chain
// (spec §4.10), refreshed out-of-band by a background loop in
// cmd/registry-api rather than regenerated per request: every refresh
// bumps each role's TUF version, so handlers must serve a stable
// snapshot between refreshes rather than call RefreshAll inline.
type TUFCache struct {
	value atomic.Pointer[metadataservice.RefreshedMetadata]
}

// Set stores the latest refreshed metadata chain.
func (c *TUFCache) Set(m metadataservice.RefreshedMetadata) {
	c.value.Store(&m)
}

// Get returns the most recently stored metadata chain, or false if none
// has been generated yet.
func (c *TUFCache) Get() (metadataservice.RefreshedMetadata, bool) {
	p := c.value.Load()
	if p == nil {
		return metadataservice.RefreshedMetadata{}, false
	}
	return *p, true
}
