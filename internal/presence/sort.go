package presence

import (
	"sort"
	"strings"
)

// Rank orders display priority: 0 in activity, 1 in activity but idle,
// 2 online, 3 online but idle.
func Rank(r Record) int {
	switch {
	case r.InActivity && !r.Idle:
		return 0
	case r.InActivity:
		return 1
	case !r.Idle:
		return 2
	default:
		return 3
	}
}

// Sort orders records in place by rank, then case-insensitive name.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := Rank(records[i]), Rank(records[j])
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(records[i].Name) < strings.ToLower(records[j].Name)
	})
}
