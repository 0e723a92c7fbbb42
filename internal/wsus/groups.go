package wsus

import "strings"

// AllComputersGroupName is the display name of the built-in group on English servers.
const AllComputersGroupName = "All Computers"

// DefaultTargetGroup returns the "All Computers" group when present,
// otherwise the first enumerated group.
func DefaultTargetGroup(groups []TargetGroup) (TargetGroup, bool) {
	for _, g := range groups {
		if strings.EqualFold(g.ID, AllComputersGroupID) {
			return g, true
		}
	}
	for _, g := range groups {
		if g.ID == "" && strings.EqualFold(g.Name, AllComputersGroupName) {
			return g, true
		}
	}
	if len(groups) == 0 {
		return TargetGroup{}, false
	}
	return groups[0], true
}

// FindTargetGroup looks a group up by ID or case-insensitive name.
// An empty selector yields the default group.
func FindTargetGroup(groups []TargetGroup, selector string) (TargetGroup, bool) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return DefaultTargetGroup(groups)
	}
	for _, g := range groups {
		if strings.EqualFold(g.ID, selector) || strings.EqualFold(g.Name, selector) {
			return g, true
		}
	}
	return TargetGroup{}, false
}
