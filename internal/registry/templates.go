// Package registry holds the follow-up template registry: named templates
// with day offsets and generation guidance, loadable from YAML.
package registry

import (
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Template describes one follow-up in a cadence: how many days after the
// initial send it goes out and what the generated message should convey.
type Template struct {
	Name       string `yaml:"name" json:"name"`
	OffsetDays int    `yaml:"offset_days" json:"offset_days"`
	Guidance   string `yaml:"guidance" json:"guidance"`
}

// Registry is an ordered follow-up cadence. Templates are kept sorted by
// offset so index position matches send order.
type Registry struct {
	templates []Template
	byName    map[string]Template
}

// Defaults returns the standard three-touch cadence.
func Defaults() *Registry {
	r, _ := New([]Template{
		{
			Name:       "gentle_reminder",
			OffsetDays: 3,
			Guidance:   "A brief, friendly nudge referencing the original email. No new asks, just resurface the value proposition in two sentences.",
		},
		{
			Name:       "case_study",
			OffsetDays: 7,
			Guidance:   "Share a short customer success story relevant to the recipient's industry, with one concrete metric, then restate the call to action.",
		},
		{
			Name:       "final_opportunity",
			OffsetDays: 14,
			Guidance:   "A polite close-out: note this is the last message, leave the door open, and make it effortless to reply with a single yes or no.",
		},
	})
	return r
}

// FromOffsets builds a cadence from configured day offsets, reusing the
// default templates' guidance positionally. Offsets beyond the default
// cadence get a generic follow-up template. Empty offsets yield the default
// cadence unchanged.
func FromOffsets(days []int) (*Registry, error) {
	if len(days) == 0 {
		return Defaults(), nil
	}

	defaults := Defaults().Templates()
	templates := make([]Template, len(days))
	for i, d := range days {
		if i < len(defaults) {
			templates[i] = Template{Name: defaults[i].Name, OffsetDays: d, Guidance: defaults[i].Guidance}
			continue
		}
		templates[i] = Template{
			Name:       fmt.Sprintf("follow_up_%d", i+1),
			OffsetDays: d,
			Guidance:   "A brief, polite follow-up continuing the earlier thread.",
		}
	}
	return New(templates)
}

// New builds a Registry from a template list, validating names and offsets.
func New(templates []Template) (*Registry, error) {
	if len(templates) == 0 {
		return nil, eris.New("registry: no templates")
	}

	byName := make(map[string]Template, len(templates))
	for _, t := range templates {
		if t.Name == "" {
			return nil, eris.New("registry: template missing name")
		}
		if t.OffsetDays <= 0 {
			return nil, eris.Errorf("registry: template %s has non-positive offset", t.Name)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, eris.Errorf("registry: duplicate template %s", t.Name)
		}
		byName[t.Name] = t
	}

	sorted := make([]Template, len(templates))
	copy(sorted, templates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OffsetDays < sorted[j].OffsetDays })

	return &Registry{templates: sorted, byName: byName}, nil
}

// Load reads a template registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}
	return New(doc.Templates)
}

// Templates returns the cadence in send order.
func (r *Registry) Templates() []Template {
	out := make([]Template, len(r.templates))
	copy(out, r.templates)
	return out
}

// Lookup returns the named template.
func (r *Registry) Lookup(name string) (Template, bool) {
	t, ok := r.byName[name]
	return t, ok
}
