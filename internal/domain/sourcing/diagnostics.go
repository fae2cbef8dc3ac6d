package sourcing

import "encoding/json"

// Diagnostics is the free-form diagnostics blob on a request, modeled as a
// small set of known subsections plus an opaque extension map. Marshaling
// round-trips unknown keys so that completion-time merges never drop fields
// written earlier (the trackDecision subsection in particular).
type Diagnostics struct {
	TrackDecision *TrackDecision      `json:"-"`
	Orchestrator  *OrchestratorResult `json:"-"`
	Discovery     *DiscoveryTelemetry `json:"-"`

	extra map[string]json.RawMessage
}

const (
	keyTrackDecision = "track_decision"
	keyOrchestrator  = "orchestrator"
	keyDiscovery     = "discovery"
)

// Merge overlays other's known subsections onto d, keeping any subsection
// other leaves nil. Extension keys from other win on collision.
func (d *Diagnostics) Merge(other Diagnostics) {
	if other.TrackDecision != nil {
		d.TrackDecision = other.TrackDecision
	}
	if other.Orchestrator != nil {
		d.Orchestrator = other.Orchestrator
	}
	if other.Discovery != nil {
		d.Discovery = other.Discovery
	}
	for k, v := range other.extra {
		d.setExtra(k, v)
	}
}

// SetExtra stores an opaque extension value under key.
func (d *Diagnostics) SetExtra(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	d.setExtra(key, raw)
	return nil
}

// Extra returns the raw extension value stored under key, if any.
func (d *Diagnostics) Extra(key string) (json.RawMessage, bool) {
	raw, ok := d.extra[key]
	return raw, ok
}

func (d *Diagnostics) setExtra(key string, raw json.RawMessage) {
	if d.extra == nil {
		d.extra = make(map[string]json.RawMessage)
	}
	d.extra[key] = raw
}

// MarshalJSON emits known subsections under fixed keys alongside any
// extension keys.
func (d Diagnostics) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.extra)+3)
	for k, v := range d.extra {
		out[k] = v
	}
	if d.TrackDecision != nil {
		raw, err := json.Marshal(d.TrackDecision)
		if err != nil {
			return nil, err
		}
		out[keyTrackDecision] = raw
	}
	if d.Orchestrator != nil {
		raw, err := json.Marshal(d.Orchestrator)
		if err != nil {
			return nil, err
		}
		out[keyOrchestrator] = raw
	}
	if d.Discovery != nil {
		raw, err := json.Marshal(d.Discovery)
		if err != nil {
			return nil, err
		}
		out[keyDiscovery] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known subsections out of the blob and keeps the rest
// as opaque extensions.
func (d *Diagnostics) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*d = Diagnostics{}
	for k, raw := range all {
		switch k {
		case keyTrackDecision:
			var td TrackDecision
			if err := json.Unmarshal(raw, &td); err != nil {
				return err
			}
			d.TrackDecision = &td
		case keyOrchestrator:
			var or OrchestratorResult
			if err := json.Unmarshal(raw, &or); err != nil {
				return err
			}
			d.Orchestrator = &or
		case keyDiscovery:
			var dt DiscoveryTelemetry
			if err := json.Unmarshal(raw, &dt); err != nil {
				return err
			}
			d.Discovery = &dt
		default:
			d.setExtra(k, raw)
		}
	}
	return nil
}
