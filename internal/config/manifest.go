package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/diamond_layer/internal/diamond"
	"github.com/R3E-Network/diamond_layer/internal/hexutil"
	"github.com/R3E-Network/diamond_layer/internal/selector"
)

// Manifest describes a diamond deployment: the diamond itself, the script
// facets to deploy, the initial cut and its initializer.
type Manifest struct {
	Diamond    DiamondSettings `yaml:"diamond"`
	Facets     []FacetSettings `yaml:"facets"`
	Cut        []CutSettings   `yaml:"cut"`
	Init       *InitSettings   `yaml:"init,omitempty"`
	Interfaces []string        `yaml:"interfaces,omitempty"`
}

// DiamondSettings identifies the diamond.
type DiamondSettings struct {
	Name string `yaml:"name"`
	// Address defaults to the handle derived from Name.
	Address string `yaml:"address,omitempty"`
	Owner   string `yaml:"owner"`
}

// FacetSettings is one script facet.
type FacetSettings struct {
	Name      string   `yaml:"name"`
	Script    string   `yaml:"script"`
	Namespace string   `yaml:"namespace,omitempty"`
	Functions []string `yaml:"functions,omitempty"`
}

// CutSettings is one cut of the initial batch. Functions defaults to every
// function the facet declares.
type CutSettings struct {
	Facet     string   `yaml:"facet,omitempty"`
	Action    string   `yaml:"action"`
	Functions []string `yaml:"functions,omitempty"`
}

// InitSettings names the initializer facet and its calldata.
type InitSettings struct {
	Facet    string        `yaml:"facet"`
	Calldata hexutil.Bytes `yaml:"calldata,omitempty"`
}

// LoadManifest reads and validates a manifest. Script paths are resolved
// relative to the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for i := range m.Facets {
		if !filepath.IsAbs(m.Facets[i].Script) {
			m.Facets[i].Script = filepath.Join(dir, m.Facets[i].Script)
		}
	}
	return m, nil
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks references and syntax without touching the filesystem.
func (m *Manifest) Validate() error {
	if m.Diamond.Name == "" {
		return fmt.Errorf("diamond: name is required")
	}
	if _, err := m.Address(); err != nil {
		return err
	}
	if _, err := m.Owner(); err != nil {
		return err
	}

	facets := make(map[string]bool, len(m.Facets))
	for _, f := range m.Facets {
		if f.Name == "" {
			return fmt.Errorf("facet: name is required")
		}
		if facets[f.Name] {
			return fmt.Errorf("facet %s: declared twice", f.Name)
		}
		facets[f.Name] = true
		if f.Script == "" {
			return fmt.Errorf("facet %s: script is required", f.Name)
		}
		if _, err := Selectors(f.Functions); err != nil {
			return fmt.Errorf("facet %s: %w", f.Name, err)
		}
	}

	for i, c := range m.Cut {
		var action diamond.Action
		if err := action.UnmarshalText([]byte(c.Action)); err != nil {
			return fmt.Errorf("cut %d: %w", i, err)
		}
		if action != diamond.Remove && !facets[c.Facet] {
			return fmt.Errorf("cut %d: unknown facet %q", i, c.Facet)
		}
		if action == diamond.Remove && len(c.Functions) == 0 {
			return fmt.Errorf("cut %d: remove requires functions", i)
		}
		if _, err := Selectors(c.Functions); err != nil {
			return fmt.Errorf("cut %d: %w", i, err)
		}
	}

	if m.Init != nil && !facets[m.Init.Facet] {
		return fmt.Errorf("init: unknown facet %q", m.Init.Facet)
	}
	for _, id := range m.Interfaces {
		if _, err := selector.Parse(id); err != nil {
			return fmt.Errorf("interface %q: %w", id, err)
		}
	}
	return nil
}

// Address returns the diamond handle.
func (m *Manifest) Address() (util.Uint160, error) {
	if m.Diamond.Address == "" {
		return diamond.HandleFor(m.Diamond.Name), nil
	}
	h, err := ParseHandle(m.Diamond.Address)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("diamond: address: %w", err)
	}
	return h, nil
}

// Owner returns the owner account.
func (m *Manifest) Owner() (util.Uint160, error) {
	if m.Diamond.Owner == "" {
		return util.Uint160{}, fmt.Errorf("diamond: owner is required")
	}
	h, err := ParseHandle(m.Diamond.Owner)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("diamond: owner: %w", err)
	}
	return h, nil
}

// Facet returns the facet settings named name.
func (m *Manifest) Facet(name string) (FacetSettings, bool) {
	for _, f := range m.Facets {
		if f.Name == name {
			return f, true
		}
	}
	return FacetSettings{}, false
}

// Cuts builds the initial cut batch. handles maps facet names to the handles
// they were deployed at.
func (m *Manifest) Cuts(handles map[string]util.Uint160) ([]diamond.Cut, error) {
	cuts := make([]diamond.Cut, 0, len(m.Cut))
	for i, c := range m.Cut {
		var cut diamond.Cut
		if err := cut.Action.UnmarshalText([]byte(c.Action)); err != nil {
			return nil, fmt.Errorf("cut %d: %w", i, err)
		}

		functions := c.Functions
		if cut.Action != diamond.Remove {
			h, ok := handles[c.Facet]
			if !ok {
				return nil, fmt.Errorf("cut %d: facet %q not deployed", i, c.Facet)
			}
			cut.Facet = h
			if len(functions) == 0 {
				f, _ := m.Facet(c.Facet)
				functions = f.Functions
			}
		}

		sels, err := Selectors(functions)
		if err != nil {
			return nil, fmt.Errorf("cut %d: %w", i, err)
		}
		cut.Selectors = sels
		cuts = append(cuts, cut)
	}
	return cuts, nil
}

// Selectors resolves function signatures or selector literals.
func Selectors(functions []string) ([]selector.Selector, error) {
	out := make([]selector.Selector, 0, len(functions))
	for _, fn := range functions {
		sel, err := selector.Resolve(fn)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

// ParseHandle accepts a Neo address or 0x-prefixed little-endian hex.
func ParseHandle(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		return util.Uint160DecodeStringLE(strings.TrimPrefix(s, "0x"))
	}
	return address.StringToUint160(s)
}
