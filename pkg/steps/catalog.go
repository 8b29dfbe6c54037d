package steps

import (
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/aescanero/flightgraph/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Registry maps step names to factories
type Registry map[string]Factory

// Builtins returns a registry with every built-in step
func Builtins() Registry {
	return Registry{
		UTCTimeStep:          NewUTCTime,
		TotalFuelStep:        NewTotalFuel,
		LaggedAltMSLStep:     NewLaggedAltMSL,
		AirportProximityStep: NewAirportProximity,
	}
}

// Names returns the registered step names in sorted order
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry is one step in a catalog file
type Entry struct {
	Step      string   `yaml:"step"`
	Required  bool     `yaml:"required,omitempty"`
	Airframes []string `yaml:"airframes,omitempty"`
}

// File is the YAML layout of a catalog file
type File struct {
	Steps []Entry `yaml:"steps"`
}

// Catalog is the ordered set of step factories applied to every flight
type Catalog struct {
	factories []Factory
}

// NewCatalog creates a catalog from factories
func NewCatalog(factories ...Factory) *Catalog {
	return &Catalog{factories: factories}
}

// DefaultCatalog runs every built-in step, with UTC time required
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Required(NewUTCTime),
		NewTotalFuel,
		NewLaggedAltMSL,
		NewAirportProximity,
	)
}

// ParseCatalog builds a catalog from YAML, resolving step names in registry
func ParseCatalog(data []byte, registry Registry) (*Catalog, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Steps))
	factories := make([]Factory, 0, len(file.Steps))
	for i, entry := range file.Steps {
		if entry.Step == "" {
			return nil, fmt.Errorf("catalog entry %d: step name is required", i)
		}
		factory, ok := registry[entry.Step]
		if !ok {
			return nil, fmt.Errorf("catalog entry %d: unknown step %q (known: %v)", i, entry.Step, registry.Names())
		}
		if seen[entry.Step] {
			return nil, fmt.Errorf("catalog entry %d: step %q listed twice", i, entry.Step)
		}
		seen[entry.Step] = true

		if len(entry.Airframes) > 0 {
			factory = ForAirframes(factory, entry.Airframes...)
		}
		if entry.Required {
			factory = Required(factory)
		}
		factories = append(factories, factory)
	}

	return NewCatalog(factories...), nil
}

// LoadCatalog reads a YAML catalog file
func LoadCatalog(path string, registry Registry) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data, registry)
}

// Len returns the number of factories in the catalog
func (c *Catalog) Len() int {
	return len(c.factories)
}

// Gather creates the steps for one flight. Steps producing a column the
// flight already has are dropped, since the data already carries their result.
func (c *Catalog) Gather(flight *domain.Flight) []domain.Step {
	existing := flight.Columns()
	out := make([]domain.Step, 0, len(c.factories))
	for _, factory := range c.factories {
		step := factory()
		if slices.ContainsFunc(step.OutputColumns(), func(column string) bool {
			_, found := slices.BinarySearch(existing, column)
			return found
		}) {
			continue
		}
		out = append(out, step)
	}
	return out
}
