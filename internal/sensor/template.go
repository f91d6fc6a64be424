package sensor

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the Home Assistant integration a template registers under.
type Kind string

const (
	KindBinarySensor Kind = "binary_sensor"
	KindSensor       Kind = "sensor"
)

// Kinds is the fixed expansion order of sensor kinds.
var Kinds = []Kind{KindBinarySensor, KindSensor}

// Template is one declarative sensor definition from the template store.
// Underscore-prefixed keys in the YAML ("_key", "_type") are recognized
// override fields; everything else is an open bag of payload fields
// passed through into the discovery descriptor as-is.
type Template struct {
	Name    string
	Kind    Kind
	Key     string    // attribute queried from the snapshot, defaults to Name
	Type    ValueType // declared value type, defaults to str
	Payload map[string]interface{}
}

// Store holds the sensor templates loaded at startup. Read-only after
// parsing.
type Store struct {
	templates []Template
}

// LoadStore reads and parses the YAML template store at path.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template store: %w", err)
	}
	store, err := ParseStore(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template store %s: %w", path, err)
	}
	return store, nil
}

// ParseStore parses YAML template data keyed by sensor kind then
// template name. Templates are ordered binary_sensor before sensor and
// sorted by name within a kind, so descriptor ordering is reproducible.
func ParseStore(data []byte) (*Store, error) {
	var raw map[string]map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	store := &Store{}
	for _, kind := range Kinds {
		names := make([]string, 0, len(raw[string(kind)]))
		for name := range raw[string(kind)] {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			tpl, err := parseTemplate(kind, name, raw[string(kind)][name])
			if err != nil {
				return nil, err
			}
			store.templates = append(store.templates, tpl)
		}
	}
	return store, nil
}

func parseTemplate(kind Kind, name string, fields map[string]interface{}) (Template, error) {
	tpl := Template{
		Name:    name,
		Kind:    kind,
		Key:     name,
		Type:    TypeString,
		Payload: make(map[string]interface{}),
	}

	for key, value := range fields {
		if !strings.HasPrefix(key, "_") {
			tpl.Payload[key] = value
			continue
		}
		switch strings.ToLower(strings.TrimLeft(key, "_")) {
		case "key":
			s, ok := value.(string)
			if !ok || s == "" {
				return Template{}, fmt.Errorf("template %s/%s: %q must be a non-empty string", kind, name, key)
			}
			tpl.Key = s
		case "type":
			s, _ := value.(string)
			t, ok := ParseValueType(s)
			if !ok {
				return Template{}, fmt.Errorf("template %s/%s: unknown value type %q", kind, name, s)
			}
			tpl.Type = t
		}
	}
	return tpl, nil
}

// Templates returns the templates in expansion order.
func (s *Store) Templates() []Template {
	return s.templates
}

// Len returns the number of templates in the store.
func (s *Store) Len() int {
	return len(s.templates)
}
