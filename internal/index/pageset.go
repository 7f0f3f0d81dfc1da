package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PageSet is a sorted set of page numbers. It serializes as a range string
// such as "1-6,9".
type PageSet []int

// Add inserts pages, keeping the set sorted and unique.
func (ps *PageSet) Add(pages ...int) {
	set := make(map[int]struct{}, len(*ps)+len(pages))
	for _, p := range *ps {
		set[p] = struct{}{}
	}
	for _, p := range pages {
		if p > 0 {
			set[p] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	*ps = out
}

// Union adds every page of other.
func (ps *PageSet) Union(other PageSet) {
	ps.Add(other...)
}

// Contains reports whether page is in the set.
func (ps PageSet) Contains(page int) bool {
	i := sort.SearchInts(ps, page)
	return i < len(ps) && ps[i] == page
}

// Max returns the highest page, or 0 for an empty set.
func (ps PageSet) Max() int {
	if len(ps) == 0 {
		return 0
	}
	return ps[len(ps)-1]
}

// Min returns the lowest page, or 0 for an empty set.
func (ps PageSet) Min() int {
	if len(ps) == 0 {
		return 0
	}
	return ps[0]
}

func (ps PageSet) String() string {
	var b strings.Builder
	for i := 0; i < len(ps); {
		j := i
		for j+1 < len(ps) && ps[j+1] == ps[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if i == j {
			b.WriteString(strconv.Itoa(ps[i]))
		} else {
			fmt.Fprintf(&b, "%d-%d", ps[i], ps[j])
		}
		i = j + 1
	}
	return b.String()
}

// ParsePageSet parses a range string such as "1-6,9".
func ParsePageSet(s string) (PageSet, error) {
	var ps PageSet
	s = strings.TrimSpace(s)
	if s == "" {
		return ps, nil
	}
	var pages []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil || start < 1 {
			return nil, fmt.Errorf("invalid page range %q", part)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(hi)
			if err != nil || end < start {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
		}
		for p := start; p <= end; p++ {
			pages = append(pages, p)
		}
	}
	ps.Add(pages...)
	return ps, nil
}

func (ps PageSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ps.String())
}

func (ps *PageSet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePageSet(s)
	if err != nil {
		return err
	}
	*ps = parsed
	return nil
}
