package wsus

import "time"

// UpdateFilter narrows an update enumeration. The zero value matches everything.
type UpdateFilter struct {
	// ApprovalStates restricts results to these states; empty means any state.
	ApprovalStates []ApprovalState
	// From and To bound ArrivalDate as the half-open range [From, To).
	// A zero bound is open.
	From time.Time
	To   time.Time
}

// Matches reports whether the record satisfies the filter.
func (f UpdateFilter) Matches(r UpdateRecord) bool {
	if len(f.ApprovalStates) > 0 {
		found := false
		for _, s := range f.ApprovalStates {
			if r.ApprovalState == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if !f.From.IsZero() && r.ArrivalDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.ArrivalDate.Before(f.To) {
		return false
	}
	return true
}

// Apply returns the records that match the filter, preserving order.
func (f UpdateFilter) Apply(records []UpdateRecord) []UpdateRecord {
	out := make([]UpdateRecord, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
