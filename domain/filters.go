package domain

import "strings"

// Filters narrows the board to initiatives of given teams and owners.
// Dimensions combine with AND, members of one dimension with OR.
type Filters struct {
	TeamIDs   []string `json:"teamIds,omitempty"`
	PersonIDs []string `json:"personIds,omitempty"`
}

// Active reports whether any filter dimension is set.
func (f Filters) Active() bool {
	return len(f.TeamIDs) > 0 || len(f.PersonIDs) > 0
}

// Matches reports whether the initiative passes the filters.
func (f Filters) Matches(in Initiative) bool {
	if !f.Active() {
		return true
	}
	if len(f.TeamIDs) > 0 {
		if in.Team == nil || !contains(f.TeamIDs, in.Team.ID) {
			return false
		}
	}
	if len(f.PersonIDs) > 0 {
		owned := false
		for _, o := range in.Owners {
			if contains(f.PersonIDs, o.Person.ID) {
				owned = true
				break
			}
		}
		if !owned {
			return false
		}
	}
	return true
}

// ParseFilters builds filters from comma separated id lists.
func ParseFilters(teamIDs, personIDs string) Filters {
	return Filters{TeamIDs: splitIDs(teamIDs), PersonIDs: splitIDs(personIDs)}
}

func splitIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
