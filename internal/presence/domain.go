package presence

import (
	"time"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/audit"
)

// Tracked is the slice of an asset the reconciler reads: every asset that
// carries a MAC address.
type Tracked struct {
	AssetID    int64
	Tag        string
	MAC        string
	IP         string
	Status     assets.Status
	LastSeen   *time.Time
	OpenHolder bool
}

// Observation is one responding host from a scan pass. MAC is empty when
// the host answered but no neighbour entry was found.
type Observation struct {
	MAC    string    `json:"mac_address,omitempty"`
	IP     string    `json:"ip_address"`
	SeenAt time.Time `json:"seen_at"`
}

// Update is the new state for one asset plus the values it was computed
// from. Stores apply it only if the asset still holds From and PrevLastSeen.
type Update struct {
	AssetID      int64
	Tag          string
	From         assets.Status
	To           assets.Status
	PrevLastSeen *time.Time
	LastSeen     *time.Time
	IP           string
	Location     string
	// Event is MISSING or REACQUIRED when the status changes, empty otherwise.
	Event audit.Action
}

// StatusChanged reports whether the update moves the asset between states.
func (u Update) StatusChanged() bool {
	return u.From != u.To
}

// Result is the outcome of reconciling one scan pass.
type Result struct {
	Responded int
	Matched   int
	Updates   []Update
	Unknown   []Observation
}

// Events returns the updates that change status, in snapshot order.
func (r Result) Events() []Update {
	var out []Update
	for _, u := range r.Updates {
		if u.Event != "" {
			out = append(out, u)
		}
	}
	return out
}

// ScanRequest parameterises one pass. Zero values fall back to configured defaults.
type ScanRequest struct {
	Subnet  string        `json:"subnet"`
	Timeout time.Duration `json:"-"`
}

// Report summarises an applied pass for operators.
type Report struct {
	RunID      string        `json:"run_id"`
	Subnet     string        `json:"subnet"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Responded  int           `json:"responded"`
	Matched    int           `json:"matched"`
	Missing    []string      `json:"missing"`
	Reacquired []string      `json:"reacquired"`
	Skipped    int           `json:"skipped"`
	Unknown    []Observation `json:"unknown"`
}
