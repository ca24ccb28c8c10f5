// Package status keeps a passive, thread-safe mirror of the latest leadership
// notifications.
package status

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/arloliu/leadership/types"
)

// Cache stores the most recent leadership flag and details.
type Cache struct {
	leader  atomic.Bool
	details atomic.Pointer[types.Details]
}

// NewCache creates an empty cache: not leader, no details.
func NewCache() *Cache {
	return &Cache{}
}

// Listener returns a listener updating the cache.
func (c *Cache) Listener() types.Listener {
	return types.Listener{
		OnLeadershipChanged:        c.SetLeader,
		OnLeadershipDetailsChanged: c.SetDetails,
	}
}

// SetLeader stores the latest leadership flag.
func (c *Cache) SetLeader(isLeader bool) {
	c.leader.Store(isLeader)
}

// SetDetails stores the latest details.
func (c *Cache) SetDetails(d types.Details) {
	c.details.Store(&d)
}

// IsLeader returns the latest leadership flag.
func (c *Cache) IsLeader() bool {
	return c.leader.Load()
}

// Details returns the latest details, or nil if none were observed.
func (c *Cache) Details() *types.Details {
	d := c.details.Load()
	if d == nil {
		return nil
	}
	cp := *d

	return &cp
}

// Reset clears the cached flag; details are kept as the last known holder.
func (c *Cache) Reset() {
	c.leader.Store(false)
}

// Snapshot is the JSON document served by Handler.
type Snapshot struct {
	IsLeader bool           `json:"isLeader"`
	Details  *types.Details `json:"details"`
}

// Snapshot returns the current cached status.
func (c *Cache) Snapshot() Snapshot {
	return Snapshot{IsLeader: c.IsLeader(), Details: c.Details()}
}

// Handler serves the cached status as JSON on GET requests.
func (c *Cache) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	})
}
