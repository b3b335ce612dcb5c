package market

import (
	"fmt"
	"strings"
)

// Direction of a sort.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// ParseDirection accepts "asc"/"desc" (and their long forms); empty means ascending.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("invalid sort direction %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// SortState is the active table ordering. A nil *SortState means unsorted.
type SortState struct {
	Key       string    `json:"key"`
	Direction Direction `json:"direction"`
}

// NextSort returns the state after the user picks key: the same key flips
// direction, a different key starts ascending.
func NextSort(current *SortState, key string) *SortState {
	if key == "" {
		return nil
	}
	if current != nil && ResolveField(current.Key) == ResolveField(key) {
		next := *current
		if next.Direction == Ascending {
			next.Direction = Descending
		} else {
			next.Direction = Ascending
		}
		return &next
	}
	return &SortState{Key: key, Direction: Ascending}
}
