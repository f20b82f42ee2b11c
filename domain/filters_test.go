package domain

import "testing"

func TestFiltersMatches(t *testing.T) {
	in := Initiative{
		ID:   "i1",
		Team: &TeamRef{ID: "T2", Name: "Platform"},
		Owners: []Owner{
			{Person: PersonRef{ID: "p1"}},
			{Person: PersonRef{ID: "p2"}},
		},
	}
	noTeam := Initiative{ID: "i2", Owners: []Owner{{Person: PersonRef{ID: "p1"}}}}

	testCases := map[string]struct {
		filters Filters
		in      Initiative
		want    bool
	}{
		"inactive":               {Filters{}, in, true},
		"team mismatch":          {Filters{TeamIDs: []string{"T1"}}, in, false},
		"team match":             {Filters{TeamIDs: []string{"T1", "T2"}}, in, true},
		"owner match":            {Filters{PersonIDs: []string{"p9", "p2"}}, in, true},
		"owner mismatch":         {Filters{PersonIDs: []string{"p9"}}, in, false},
		"both dimensions":        {Filters{TeamIDs: []string{"T2"}, PersonIDs: []string{"p1"}}, in, true},
		"team ok owner missing":  {Filters{TeamIDs: []string{"T2"}, PersonIDs: []string{"p9"}}, in, false},
		"no team vs team filter": {Filters{TeamIDs: []string{"T1"}}, noTeam, false},
		"no team owner filter":   {Filters{PersonIDs: []string{"p1"}}, noTeam, true},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := tc.filters.Matches(tc.in); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseFilters(t *testing.T) {
	f := ParseFilters(" T1, T2,,T1 ", "")
	if len(f.TeamIDs) != 2 || f.TeamIDs[0] != "T1" || f.TeamIDs[1] != "T2" {
		t.Fatalf("unexpected team ids: %#v", f.TeamIDs)
	}
	if f.PersonIDs != nil {
		t.Fatalf("expected no person ids, got %#v", f.PersonIDs)
	}
	if !f.Active() {
		t.Fatalf("expected filters to be active")
	}
	if ParseFilters(" , ", "").Active() {
		t.Fatalf("blank lists should not activate filters")
	}
}
