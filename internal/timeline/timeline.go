package timeline

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// StartOfTime is the earliest instant any schedule is defined for.
	StartOfTime = time.Unix(0, 0).UTC()
	// EndOfTime marks "never" for deletion and recurrence end times.
	EndOfTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

var (
	ErrEmpty             = errors.New("timeline_empty")
	ErrMissingStart      = errors.New("timeline_missing_start_of_time")
	ErrDuplicateKey      = errors.New("timeline_duplicate_key")
	ErrInvalidTransition = errors.New("timeline_invalid_transition")
)

// Entry is one step of a Timeline: Value applies from At until the next entry.
type Entry[V any] struct {
	At    time.Time `json:"at"`
	Value V         `json:"value"`
}

// Timeline is a step function over time. The value at T is the value of the
// entry with the greatest At <= T.
type Timeline[V any] struct {
	entries []Entry[V]
}

// New builds a timeline from unordered entries. The first entry must start at
// StartOfTime so every instant has a value.
func New[V any](entries []Entry[V]) (Timeline[V], error) {
	if len(entries) == 0 {
		return Timeline[V]{}, ErrEmpty
	}
	sorted := make([]Entry[V], len(entries))
	for i, e := range entries {
		sorted[i] = Entry[V]{At: e.At.UTC(), Value: e.Value}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	if !sorted[0].At.Equal(StartOfTime) {
		return Timeline[V]{}, ErrMissingStart
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].At.Equal(sorted[i-1].At) {
			return Timeline[V]{}, fmt.Errorf("%w: %s", ErrDuplicateKey, sorted[i].At.Format(time.RFC3339))
		}
	}
	return Timeline[V]{entries: sorted}, nil
}

// MustNew panics on invalid input. Intended for fixtures.
func MustNew[V any](entries ...Entry[V]) Timeline[V] {
	t, err := New(entries)
	if err != nil {
		panic(err)
	}
	return t
}

// Constant is a timeline that holds v forever.
func Constant[V any](v V) Timeline[V] {
	return Timeline[V]{entries: []Entry[V]{{At: StartOfTime, Value: v}}}
}

func (t Timeline[V]) IsZero() bool {
	return len(t.entries) == 0
}

// ValueAt looks up the value in effect at instant at.
func (t Timeline[V]) ValueAt(at time.Time) V {
	var zero V
	if len(t.entries) == 0 {
		return zero
	}
	idx := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].At.After(at)
	})
	if idx == 0 {
		return zero
	}
	return t.entries[idx-1].Value
}

func (t Timeline[V]) Entries() []Entry[V] {
	out := make([]Entry[V], len(t.entries))
	copy(out, t.entries)
	return out
}

// ValidateTransitions checks every consecutive pair of values against allowed.
func (t Timeline[V]) ValidateTransitions(allowed func(from, to V) bool) error {
	for i := 1; i < len(t.entries); i++ {
		from, to := t.entries[i-1].Value, t.entries[i].Value
		if !allowed(from, to) {
			return fmt.Errorf("%w: %v -> %v at %s", ErrInvalidTransition, from, to, t.entries[i].At.Format(time.RFC3339))
		}
	}
	return nil
}

func (t Timeline[V]) MarshalJSON() ([]byte, error) {
	if t.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.entries)
}

func (t *Timeline[V]) UnmarshalJSON(data []byte) error {
	var entries []Entry[V]
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		*t = Timeline[V]{}
		return nil
	}
	parsed, err := New(entries)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timeline[V]) GormDataType() string {
	return "json"
}

func (t Timeline[V]) Value() (driver.Value, error) {
	raw, err := t.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (t *Timeline[V]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = Timeline[V]{}
		return nil
	case []byte:
		return t.UnmarshalJSON(v)
	case string:
		return t.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("timeline: unsupported scan type %T", src)
	}
}
