// Package presets loads named scenarios from YAML and keeps the catalog of
// scenarios a controller can switch between.
package presets

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/talgya/policysim/internal/policy"
)

//go:embed builtin.yaml
var builtinYAML []byte

// DefaultName is the preset selected when nothing else is configured.
const DefaultName = "green-transition"

// File is the on-disk preset document.
type File struct {
	Presets []Preset `yaml:"presets"`
}

// Preset is one scenario as authored in YAML. Funding sits on each domain
// rather than in a parallel vector.
type Preset struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Start       int            `yaml:"start"`
	Params      *policy.Params `yaml:"params,omitempty"` // nil = policy.DefaultParams
	Domains     []DomainSpec   `yaml:"domains"`
	Children    []policy.Child `yaml:"children,omitempty"`
}

// DomainSpec is a domain plus its initial funding level.
type DomainSpec struct {
	policy.Domain `yaml:",inline"`
	Funding       float64 `yaml:"funding"`
}

// Scenario converts the preset into a normalized scenario.
func (p Preset) Scenario() (policy.Scenario, error) {
	if p.Name == "" {
		return policy.Scenario{}, errors.New("preset has no name")
	}
	sc := policy.Scenario{
		Name:        p.Name,
		Description: p.Description,
		Start:       p.Start,
		Params:      policy.DefaultParams(),
		Children:    p.Children,
	}
	if p.Params != nil {
		sc.Params = *p.Params
	}
	for _, d := range p.Domains {
		sc.Domains = append(sc.Domains, d.Domain)
		sc.Funding = append(sc.Funding, d.Funding)
	}
	if err := sc.Validate(); err != nil {
		return policy.Scenario{}, fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return sc.Normalize(), nil
}

// FromScenario is the inverse of Preset.Scenario.
func FromScenario(sc policy.Scenario) Preset {
	params := sc.Params
	p := Preset{
		Name:        sc.Name,
		Description: sc.Description,
		Start:       sc.Start,
		Params:      &params,
		Children:    sc.Children,
	}
	for i, d := range sc.Domains {
		p.Domains = append(p.Domains, DomainSpec{Domain: d, Funding: sc.FundingAt(i)})
	}
	return p
}

// Parse decodes a preset document. Every preset must convert cleanly and
// names must be unique.
func Parse(data []byte) ([]policy.Scenario, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing presets: %w", err)
	}
	seen := make(map[string]bool, len(f.Presets))
	out := make([]policy.Scenario, 0, len(f.Presets))
	for i, p := range f.Presets {
		sc, err := p.Scenario()
		if err != nil {
			return nil, fmt.Errorf("preset %d: %w", i, err)
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("preset %q defined twice", sc.Name)
		}
		seen[sc.Name] = true
		out = append(out, sc)
	}
	return out, nil
}

// LoadFile reads and parses a preset file.
func LoadFile(path string) ([]policy.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presets file: %w", err)
	}
	scenarios, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}

// Marshal encodes scenarios as a preset document.
func Marshal(scenarios []policy.Scenario) ([]byte, error) {
	f := File{Presets: make([]Preset, 0, len(scenarios))}
	for _, sc := range scenarios {
		f.Presets = append(f.Presets, FromScenario(sc))
	}
	return yaml.Marshal(&f)
}

var builtin = sync.OnceValues(func() ([]policy.Scenario, error) {
	return Parse(builtinYAML)
})

// Builtin returns the presets compiled into the binary.
func Builtin() []policy.Scenario {
	scenarios, err := builtin()
	if err != nil {
		// The embedded file is covered by tests.
		panic(fmt.Sprintf("presets: builtin.yaml: %v", err))
	}
	out := make([]policy.Scenario, len(scenarios))
	for i, sc := range scenarios {
		out[i] = sc.Normalize()
	}
	return out
}

// Catalog is a name-indexed set of scenarios. Safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]policy.Scenario
}

// NewCatalog creates a catalog holding scenarios. Later entries replace
// earlier ones with the same name.
func NewCatalog(scenarios ...policy.Scenario) *Catalog {
	c := &Catalog{byName: make(map[string]policy.Scenario, len(scenarios))}
	for _, sc := range scenarios {
		c.Put(sc)
	}
	return c
}

// Put adds or replaces a scenario.
func (c *Catalog) Put(sc policy.Scenario) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[sc.Name] = sc.Normalize()
}

// Lookup returns a copy of the named scenario.
func (c *Catalog) Lookup(name string) (policy.Scenario, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sc, ok := c.byName[name]
	if !ok {
		return policy.Scenario{}, false
	}
	return sc.Normalize(), true
}

// Names returns every preset name, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every scenario, sorted by name.
func (c *Catalog) All() []policy.Scenario {
	names := c.Names()
	out := make([]policy.Scenario, 0, len(names))
	for _, name := range names {
		if sc, ok := c.Lookup(name); ok {
			out = append(out, sc)
		}
	}
	return out
}

// Len returns the number of presets.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}
