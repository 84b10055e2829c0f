// Package scenario holds the scripted patient goals the bot pursues on a call.
package scenario

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// Kind groups scenarios by what the patient is calling about.
type Kind string

const (
	Scheduling   Kind = "scheduling"
	Rescheduling Kind = "rescheduling"
	Canceling    Kind = "canceling"
	Refill       Kind = "refill"
	Question     Kind = "question"
)

// Scenario is immutable once a call starts.
type Scenario struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	DateOfBirth string            `yaml:"date_of_birth" json:"date_of_birth"`
	Kind        Kind              `yaml:"kind" json:"kind"`
	Goal        string            `yaml:"goal" json:"goal"`
	Details     map[string]string `yaml:"details" json:"details,omitempty"`
	// Hints are ordered script cues, e.g. what to bring up first.
	Hints []string `yaml:"hints" json:"hints,omitempty"`
	// Opening is spoken verbatim when the session greets first.
	Opening string `yaml:"opening" json:"opening,omitempty"`
	// MaxTurns ends the call after that many patient replies. Zero means no limit.
	MaxTurns int `yaml:"max_turns" json:"max_turns,omitempty"`
}

// DetailLines renders Details as sorted "- key: value" lines.
func (s Scenario) DetailLines() string {
	keys := make([]string, 0, len(s.Details))
	for k := range s.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, s.Details[k])
	}
	return b.String()
}

// Catalog is an ordered, read-only list of scenarios.
type Catalog struct {
	list []Scenario
	byID map[string]int
}

// NewCatalog validates and indexes scenarios.
func NewCatalog(list []Scenario) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(list))}
	for i, s := range list {
		if s.ID == "" {
			return nil, fmt.Errorf("scenario %d: id is required", i)
		}
		if strings.TrimSpace(s.Goal) == "" {
			return nil, fmt.Errorf("scenario %q: goal is required", s.ID)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("scenario %q: duplicate id", s.ID)
		}
		c.byID[s.ID] = i
		c.list = append(c.list, s)
	}
	return c, nil
}

// All returns a copy of the scenarios in order.
func (c *Catalog) All() []Scenario {
	return append([]Scenario(nil), c.list...)
}

// Len is the number of scenarios.
func (c *Catalog) Len() int { return len(c.list) }

// Get finds a scenario by id or, failing that, by case-insensitive patient name.
func (c *Catalog) Get(key string) (Scenario, bool) {
	if i, ok := c.byID[key]; ok {
		return c.list[i], true
	}
	for _, s := range c.list {
		if strings.EqualFold(s.Name, key) {
			return s, true
		}
	}
	return Scenario{}, false
}

// At returns the scenario at index i.
func (c *Catalog) At(i int) (Scenario, bool) {
	if i < 0 || i >= len(c.list) {
		return Scenario{}, false
	}
	return c.list[i], true
}

type fileFormat struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Parse decodes a YAML document with a top-level "scenarios" list.
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	return NewCatalog(f.Scenarios)
}

// Load reads scenarios from path, or returns the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(Builtin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios %s: %w", path, err)
	}
	return Parse(data)
}
