package presence

import (
	"fmt"
	"iter"
	"time"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/audit"
)

// Reconcile folds one scan pass into the registry snapshot. It is pure: the
// snapshot is not modified and nothing is persisted.
//
// An observation only ever moves last_seen forward. A MISSING asset whose
// last_seen is within the threshold after an observation returns to ISSUED
// when it still has an open assignment and to AVAILABLE otherwise. After the
// pass, every asset with a MAC that is neither RETIRED nor MISSING and whose
// last_seen is unset or older than now-threshold becomes MISSING, whether or
// not this pass observed it.
func Reconcile(snapshot []Tracked, observations iter.Seq[Observation], threshold time.Duration, now time.Time) Result {
	var result Result
	var (
		state   = make([]Tracked, len(snapshot))
		byMAC   = make(map[string]int, len(snapshot))
		dirty   = make(map[int]bool)
		seen    = make(map[int]bool)
		unknown = make(map[string]bool)
		events  = make(map[int]audit.Action)
		where   = make(map[int]string)
	)
	copy(state, snapshot)
	for i, t := range state {
		mac, err := assets.NormalizeMAC(t.MAC)
		if err != nil || mac == "" {
			// Unparseable MACs are neither matched nor aged out.
			state[i].MAC = ""
			continue
		}
		state[i].MAC = mac
		byMAC[mac] = i
	}
	cutoff := now.Add(-threshold)

	for obs := range observations {
		result.Responded++
		if obs.MAC == "" {
			continue
		}
		mac, err := assets.NormalizeMAC(obs.MAC)
		if err != nil {
			continue
		}
		i, ok := byMAC[mac]
		if !ok {
			if !unknown[mac] {
				unknown[mac] = true
				obs.MAC = mac
				result.Unknown = append(result.Unknown, obs)
			}
			continue
		}
		if !seen[i] {
			result.Matched++
			seen[i] = true
		}
		cur := &state[i]
		if cur.LastSeen == nil || obs.SeenAt.After(*cur.LastSeen) {
			at := obs.SeenAt.UTC()
			cur.LastSeen = &at
			if obs.IP != "" {
				cur.IP = obs.IP
			}
			dirty[i] = true
		}
		if cur.Status == assets.StatusMissing && !cur.LastSeen.Before(cutoff) {
			cur.Status = assets.StatusAvailable
			if cur.OpenHolder {
				cur.Status = assets.StatusIssued
			}
			events[i] = audit.ActionReacquired
			if obs.IP != "" {
				where[i] = "Detected on network: " + obs.IP
			}
			dirty[i] = true
		}
	}

	for i := range state {
		cur := &state[i]
		if cur.MAC == "" {
			continue
		}
		if cur.Status == assets.StatusRetired || cur.Status == assets.StatusMissing {
			continue
		}
		if cur.LastSeen != nil && !cur.LastSeen.Before(cutoff) {
			continue
		}
		cur.Status = assets.StatusMissing
		events[i] = audit.ActionMissing
		dirty[i] = true
	}

	for i := range state {
		if !dirty[i] {
			continue
		}
		prev, cur := snapshot[i], state[i]
		result.Updates = append(result.Updates, Update{
			AssetID:      cur.AssetID,
			Tag:          cur.Tag,
			From:         prev.Status,
			To:           cur.Status,
			PrevLastSeen: prev.LastSeen,
			LastSeen:     cur.LastSeen,
			IP:           cur.IP,
			Location:     where[i],
			Event:        events[i],
		})
	}
	return result
}

// Describe renders the audit description for a status-changing update.
func (u Update) Describe(threshold time.Duration) string {
	switch u.Event {
	case audit.ActionMissing:
		if u.LastSeen == nil {
			return fmt.Sprintf("%s never seen on network, marked MISSING", u.Tag)
		}
		return fmt.Sprintf("%s not seen since %s (threshold %s), marked MISSING", u.Tag, u.LastSeen.Format(time.RFC3339), threshold)
	case audit.ActionReacquired:
		desc := fmt.Sprintf("%s reacquired, now %s", u.Tag, u.To)
		if u.IP != "" {
			desc += " at " + u.IP
		}
		return desc
	}
	return u.Tag
}
