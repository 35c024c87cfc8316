package capability

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistry []byte

// Descriptor describes one capability. Descriptors are immutable after load.
type Descriptor struct {
	Name           string             `yaml:"name" json:"name"`
	Kind           Kind               `yaml:"kind" json:"kind"`
	Priority       int                `yaml:"priority" json:"priority"`
	Responsibility string             `yaml:"responsibility" json:"responsibility"`
	Endpoint       string             `yaml:"endpoint" json:"endpoint"`
	Keywords       []string           `yaml:"keywords" json:"keywords"`
	InputSchema    *jsonschema.Schema `yaml:"-" json:"input_schema"`
}

type registryFile struct {
	Capabilities   []Descriptor `yaml:"capabilities"`
	CrisisKeywords []string     `yaml:"crisis_keywords"`
	ReliefKeywords []string     `yaml:"relief_keywords"`
}

// Registry is the read-only set of capability descriptors.
type Registry struct {
	descriptors    []Descriptor
	byKind         map[Kind]int
	byName         map[string]Kind
	crisisKeywords []string
	reliefKeywords []string
}

// LoadRegistry parses the embedded registry.
func LoadRegistry() (*Registry, error) {
	return ParseRegistry(defaultRegistry)
}

// ParseRegistry parses and validates a registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	reflector := &jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	reg := &Registry{
		byKind: make(map[Kind]int, len(file.Capabilities)),
		byName: make(map[string]Kind, len(file.Capabilities)),
	}

	for _, d := range file.Capabilities {
		proto, ok := inputPrototypes[d.Kind]
		if !ok {
			return nil, fmt.Errorf("capability %q: unknown kind %q", d.Name, d.Kind)
		}
		if _, dup := reg.byKind[d.Kind]; dup {
			return nil, fmt.Errorf("capability %q: kind %q registered twice", d.Name, d.Kind)
		}
		if d.Name == "" {
			return nil, fmt.Errorf("capability of kind %q has no name", d.Kind)
		}
		if _, dup := reg.byName[d.Name]; dup {
			return nil, fmt.Errorf("capability name %q used twice", d.Name)
		}
		reg.byName[d.Name] = d.Kind
		d.Keywords = normalize(d.Keywords)
		d.InputSchema = reflector.Reflect(proto)
		reg.byKind[d.Kind] = len(reg.descriptors)
		reg.descriptors = append(reg.descriptors, d)
	}

	for _, k := range Kinds() {
		if _, ok := reg.byKind[k]; !ok {
			return nil, fmt.Errorf("registry is missing kind %q", k)
		}
	}

	slices.SortStableFunc(reg.descriptors, func(a, b Descriptor) int { return a.Priority - b.Priority })
	for i, d := range reg.descriptors {
		reg.byKind[d.Kind] = i
	}
	reg.crisisKeywords = normalize(file.CrisisKeywords)
	reg.reliefKeywords = normalize(file.ReliefKeywords)
	return reg, nil
}

// Descriptors returns all descriptors in priority order.
func (r *Registry) Descriptors() []Descriptor {
	return slices.Clone(r.descriptors)
}

// Lookup returns the descriptor for kind.
func (r *Registry) Lookup(kind Kind) (Descriptor, bool) {
	i, ok := r.byKind[kind]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// LookupName returns the descriptor registered under name.
func (r *Registry) LookupName(name string) (Descriptor, bool) {
	kind, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.Lookup(kind)
}

// Keywords returns the trigger keywords of kind.
func (r *Registry) Keywords(kind Kind) []string {
	d, ok := r.Lookup(kind)
	if !ok {
		return nil
	}
	return slices.Clone(d.Keywords)
}

// CrisisKeywords returns the calamity words that select crisis schemes.
func (r *Registry) CrisisKeywords() []string {
	return slices.Clone(r.crisisKeywords)
}

// ReliefKeywords returns the words that mark a request for help after a calamity.
func (r *Registry) ReliefKeywords() []string {
	return slices.Clone(r.reliefKeywords)
}

func normalize(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
