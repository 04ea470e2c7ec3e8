package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemState is one node of the per-item sync state machine:
//
//	Discovered -> Hashing -> Resolving -> {Updated, Unchanged, NotFound, Failed}
//
// Transitions within one item are strictly sequential; no ordering exists
// between items.
type ItemState int

const (
	StateDiscovered ItemState = iota
	StateHashing
	StateResolving
	StateUpdated
	StateUnchanged
	StateNotFound
	StateFailed
)

// Terminal reports whether the state ends the item's state machine.
func (s ItemState) Terminal() bool { return s >= StateUpdated }

func (s ItemState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateHashing:
		return "hashing"
	case StateResolving:
		return "resolving"
	case StateUpdated:
		return "updated"
	case StateUnchanged:
		return "unchanged"
	case StateNotFound:
		return "notfound"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalJSON encodes the state as its name so API consumers never see
// bare ordinals.
func (s ItemState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the state name, for run reports loaded back from
// the run-history store.
func (s *ItemState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for st := StateDiscovered; st <= StateFailed; st++ {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown item state %q", name)
}

// ItemReport is the outcome of one model file within a run.
type ItemReport struct {
	File     ModelFile   `json:"file"`
	Hash     ContentHash `json:"hash,omitempty"`
	State    ItemState   `json:"state"`
	Attempts int         `json:"attempts"` // Resolve attempts actually made
	Kind     ErrorKind   `json:"error_kind,omitempty"`
	Message  string      `json:"message,omitempty"` // Short human description, never raw error text alone
}

// Event is one state transition, emitted on the run's progress stream.
type Event struct {
	RunID   string    `json:"run_id"`
	Path    string    `json:"path"`
	State   string    `json:"state"`
	Attempt int       `json:"attempt,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// RunSummary aggregates a full reconciliation run. Counts are merged
// commutatively as items finish, so worker completion order is irrelevant.
// A run is never a single pass/fail boolean.
type RunSummary struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Updated    int          `json:"updated"`
	Unchanged  int          `json:"unchanged"`
	NotFound   int          `json:"notfound"`
	Failed     int          `json:"failed"`
	Total      int          `json:"total"`
	Fatal      string       `json:"fatal,omitempty"` // Run-level fatal condition, reported once
	Items      []ItemReport `json:"items"`
}

// Absorb folds one finished item into the summary counts.
func (r *RunSummary) Absorb(item ItemReport) {
	switch item.State {
	case StateUpdated:
		r.Updated++
	case StateUnchanged:
		r.Unchanged++
	case StateNotFound:
		r.NotFound++
	default:
		r.Failed++
	}
	r.Total++
	r.Items = append(r.Items, item)
}
