package domain

import (
	"sort"
	"sync"
	"time"
)

// DoubleSeries is a named time series of numeric samples
type DoubleSeries struct {
	Name   string    `json:"name"`
	Unit   string    `json:"unit,omitempty"`
	Values []float64 `json:"values"`
}

// StringSeries is a named time series of string samples
type StringSeries struct {
	Name   string   `json:"name"`
	Unit   string   `json:"unit,omitempty"`
	Values []string `json:"values"`
}

// Len returns the number of samples
func (s *DoubleSeries) Len() int { return len(s.Values) }

// Len returns the number of samples
func (s *StringSeries) Len() int { return len(s.Values) }

// FlightMeta holds metadata about a flight that is not a column
type FlightMeta struct {
	TailNumber string     `json:"tail_number,omitempty"`
	SystemID   string     `json:"system_id,omitempty"`
	Filename   string     `json:"filename,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// Flight is the in-memory representation of a partially processed flight.
//
// Columns may be read and written concurrently by steps running in parallel.
// Steps are still responsible for not overwriting columns they do not own.
type Flight struct {
	ID       string
	Airframe string

	mu      sync.RWMutex
	meta    FlightMeta
	doubles map[string]*DoubleSeries
	strings map[string]*StringSeries
	// aliases maps a canonical column name to alternative names a recorder may use
	aliases map[string][]string
}

// NewFlight creates a flight from the columns produced by a parser
func NewFlight(id, airframe string, doubles []*DoubleSeries, strs []*StringSeries) *Flight {
	f := &Flight{
		ID:       id,
		Airframe: airframe,
		doubles:  make(map[string]*DoubleSeries, len(doubles)),
		strings:  make(map[string]*StringSeries, len(strs)),
		aliases:  make(map[string][]string),
	}
	for _, s := range doubles {
		f.doubles[s.Name] = s
	}
	for _, s := range strs {
		f.strings[s.Name] = s
	}
	return f
}

// SetAliases registers alternative names for a canonical column. A lookup of
// the canonical name falls back to the first alias that exists.
func (f *Flight) SetAliases(column string, aliases ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[column] = append([]string(nil), aliases...)
}

// Meta returns a copy of the flight metadata
func (f *Flight) Meta() FlightMeta {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta
}

// UpdateMeta applies fn to the flight metadata under the write lock
func (f *Flight) UpdateMeta(fn func(m *FlightMeta)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.meta)
}

// Double returns the numeric column with the given name, following aliases
func (f *Flight) Double(name string) (*DoubleSeries, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return lookup(f.doubles, f.aliases, name)
}

// String returns the string column with the given name, following aliases
func (f *Flight) String(name string) (*StringSeries, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return lookup(f.strings, f.aliases, name)
}

// SetDouble adds or replaces a numeric column
func (f *Flight) SetDouble(s *DoubleSeries) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doubles[s.Name] = s
}

// SetString adds or replaces a string column
func (f *Flight) SetString(s *StringSeries) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[s.Name] = s
}

// HasColumns reports whether every named column resolves, as either type
func (f *Flight) HasColumns(names ...string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, name := range names {
		if _, ok := lookup(f.doubles, f.aliases, name); ok {
			continue
		}
		if _, ok := lookup(f.strings, f.aliases, name); ok {
			continue
		}
		return false
	}
	return true
}

// Columns returns the sorted names of every available column. Canonical
// names whose alias is present are included.
func (f *Flight) Columns() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	set := make(map[string]struct{}, len(f.doubles)+len(f.strings))
	for name := range f.doubles {
		set[name] = struct{}{}
	}
	for name := range f.strings {
		set[name] = struct{}{}
	}
	for canonical, aliases := range f.aliases {
		for _, a := range aliases {
			if _, ok := set[a]; ok {
				set[canonical] = struct{}{}
				break
			}
		}
	}

	cols := make([]string, 0, len(set))
	for name := range set {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

func lookup[T any](m map[string]*T, aliases map[string][]string, name string) (*T, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for _, a := range aliases[name] {
		if v, ok := m[a]; ok {
			return v, true
		}
	}
	return nil, false
}
