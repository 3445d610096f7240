package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Restrictions is the sell restriction set carried by a ledger row and pushed to channels.
type Restrictions struct {
	StopSell          bool `json:"stopSell"`
	ClosedToArrival   bool `json:"closedToArrival"`
	ClosedToDeparture bool `json:"closedToDeparture"`
	MinLOS            *int `json:"minLOS,omitempty"`
	MaxLOS            *int `json:"maxLOS,omitempty"`
}

// Validate enforces minLOS <= maxLOS and positive stay lengths.
func (r Restrictions) Validate() error {
	if r.MinLOS != nil && *r.MinLOS < 1 {
		return fmt.Errorf("restrictions: minLOS must be positive")
	}
	if r.MaxLOS != nil && *r.MaxLOS < 1 {
		return fmt.Errorf("restrictions: maxLOS must be positive")
	}
	if r.MinLOS != nil && r.MaxLOS != nil && *r.MinLOS > *r.MaxLOS {
		return fmt.Errorf("restrictions: minLOS %d exceeds maxLOS %d", *r.MinLOS, *r.MaxLOS)
	}
	return nil
}

// Merge overlays other onto r: booleans are OR-ed, LOS bounds take the stricter value.
func (r Restrictions) Merge(other Restrictions) Restrictions {
	out := Restrictions{
		StopSell:          r.StopSell || other.StopSell,
		ClosedToArrival:   r.ClosedToArrival || other.ClosedToArrival,
		ClosedToDeparture: r.ClosedToDeparture || other.ClosedToDeparture,
		MinLOS:            r.MinLOS,
		MaxLOS:            r.MaxLOS,
	}
	if other.MinLOS != nil && (out.MinLOS == nil || *other.MinLOS > *out.MinLOS) {
		v := *other.MinLOS
		out.MinLOS = &v
	}
	if other.MaxLOS != nil && (out.MaxLOS == nil || *other.MaxLOS < *out.MaxLOS) {
		v := *other.MaxLOS
		out.MaxLOS = &v
	}
	return out
}

// IsZero reports whether no restriction is active.
func (r Restrictions) IsZero() bool {
	return !r.StopSell && !r.ClosedToArrival && !r.ClosedToDeparture && r.MinLOS == nil && r.MaxLOS == nil
}

// Value marshals the restriction set into JSON.
func (r Restrictions) Value() (driver.Value, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan decodes a JSON restriction set.
func (r *Restrictions) Scan(value interface{}) error {
	if value == nil {
		*r = Restrictions{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("restrictions: unsupported scan type %T", value)
	}
	var out Restrictions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*r = out
	return nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
