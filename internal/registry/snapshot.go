package registry

import (
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// Snapshot is a read-only view of every group and client at one instant.
// Its JSON form is what the dashboard polls.
type Snapshot struct {
	At       time.Time   `json:"-"`
	SiteName string      `json:"siteName"`
	Groups   []GroupView `json:"groups"`
}

// GroupView aggregates the clients of one group.
type GroupView struct {
	Name    string       `json:"name"`
	Clients []ClientView `json:"clients"`
	Alive   int          `json:"alive"`
	Total   int          `json:"total"`
}

// ClientView is the derived state of one client.
type ClientView struct {
	CPU *CPUView `json:"cpu"`
	Mem *MemView `json:"mem"`

	// LastHeartbeat is milliseconds since the Unix epoch, nil if the client
	// has never reported.
	LastHeartbeat *int64 `json:"last_heartbeat"`

	Token   Token     `json:"-"`
	Group   string    `json:"-"`
	Name    string    `json:"name"`
	TimeAgo string    `json:"timeago"`
	GPU     []GPUView `json:"gpu"`

	Recency Recency `json:"-"`

	// HeartbeatPeriod is in seconds, as registered.
	HeartbeatPeriod float64 `json:"heartbeat_period"`
	Alive           bool    `json:"alive"`
}

type clientCopy struct {
	reg   Registration
	state HeartbeatState
}

type groupCopy struct {
	name    string
	clients []clientCopy
}

// Snapshot builds the aggregated view of the registry.
//
// The registry is copied under a single read lock together with one reading
// of the clock, so every alive flag and recency label is computed against the
// same instant and no registration or clear is seen half-applied. The
// aggregation itself runs after the lock is released.
//
// Ordering:
//   - groups by name ascending
//   - clients within a group by display name ascending, ties in
//     registration order
//
// An empty registry yields an empty, non-nil Groups slice.
func (r *Registry) Snapshot() Snapshot {
	groups, now := r.copyState()

	slices.SortFunc(groups, func(a, b groupCopy) int {
		return strings.Compare(a.name, b.name)
	})

	out := Snapshot{
		At:       now,
		SiteName: r.siteName,
		Groups:   make([]GroupView, 0, len(groups)),
	}
	for _, g := range groups {
		slices.SortStableFunc(g.clients, func(a, b clientCopy) int {
			return strings.Compare(a.reg.Name, b.reg.Name)
		})
		view := GroupView{
			Name:    g.name,
			Total:   len(g.clients),
			Clients: make([]ClientView, 0, len(g.clients)),
		}
		for _, c := range g.clients {
			cv := buildClientView(c, now)
			if cv.Alive {
				view.Alive++
			}
			view.Clients = append(view.Clients, cv)
		}
		out.Groups = append(out.Groups, view)
	}
	return out
}

func (r *Registry) copyState() ([]groupCopy, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	groups := make([]groupCopy, 0, len(r.groups))
	for name, tokens := range r.groups {
		g := groupCopy{name: name, clients: make([]clientCopy, 0, len(tokens))}
		for _, t := range tokens {
			g.clients = append(g.clients, clientCopy{reg: *r.clients[t], state: *r.beats[t]})
		}
		groups = append(groups, g)
	}
	return groups, now
}

func buildClientView(c clientCopy, now time.Time) ClientView {
	last, reported := c.state.LastHeartbeat()
	cv := ClientView{
		Token:           c.reg.Token,
		Group:           c.reg.Group,
		Name:            c.reg.Name,
		Alive:           IsAlive(last, c.reg.HeartbeatPeriod(), now),
		HeartbeatPeriod: c.reg.HeartbeatSeconds(),
		Recency:         RecencyOf(last, now),
		GPU:             gpuViews(c.state.Metrics),
	}
	cv.TimeAgo = cv.Recency.String()
	if reported {
		ms := last.UnixMilli()
		cv.LastHeartbeat = &ms
	}
	cv.CPU = cpuView(c.state.Metrics)
	cv.Mem = memView(c.state.Metrics)
	return cv
}
