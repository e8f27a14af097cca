// Package replay drives the sync engine from scripted host events on a
// virtual clock and records what it reports.
//
// Scenarios are YAML files validated against an embedded JSON Schema. Each
// step happens at an offset from the start of the scenario; timers that
// fall due between steps fire in order, and after the last step the clock
// runs until no timer is left.
package replay

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"fieldsync/internal/config"
	"fieldsync/internal/field"
)

// Step operations.
const (
	OpMount          = "mount"
	OpUnmount        = "unmount"
	OpFocus          = "focus"
	OpBlur           = "blur"
	OpInput          = "input"
	OpComposeStart   = "compose_start"
	OpComposeUpdate  = "compose_update"
	OpComposeEnd     = "compose_end"
	OpKeyDown        = "keydown"
	OpPush           = "push"
	OpHold           = "hold"
	OpRelease        = "release"
	OpFlush          = "flush"
	OpAdvance        = "advance"
	defaultInputType = "insertText"
)

const schemaURL = "scenario.schema.json"

//go:embed scenario.schema.json
var schemaJSON []byte

// ErrInvalidScenario wraps schema and ordering violations.
var ErrInvalidScenario = errors.New("replay: invalid scenario")

// Scenario is a scripted editing session.
type Scenario struct {
	// Name identifies the scenario in traces.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Engine overrides the engine configuration, using the keys of the
	// [engine] config section.
	Engine map[string]any `yaml:"engine,omitempty"`

	// StillActive lists fields the host reports as still focused when a
	// blur is re-checked. hold and release steps change it.
	StillActive []string `yaml:"still_active,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one host event.
type Step struct {
	At        Duration `yaml:"at" json:"-"`
	Field     string   `yaml:"field,omitempty" json:"field,omitempty"`
	Op        string   `yaml:"op" json:"op"`
	Value     string   `yaml:"value,omitempty" json:"value,omitempty"`
	Key       string   `yaml:"key,omitempty" json:"key,omitempty"`
	InputType string   `yaml:"input_type,omitempty" json:"input_type,omitempty"`
}

// Duration is an offset from the scenario start. YAML accepts a Go
// duration string or an integer number of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var ms int64
	if err := n.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario validates data against the scenario schema and decodes it.
func ParseScenario(data []byte) (*Scenario, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	var last Duration
	for i, st := range sc.Steps {
		if st.At < last {
			return nil, fmt.Errorf("%w: step %d (%s) at %s is before %s",
				ErrInvalidScenario, i, st.Op, time.Duration(st.At), time.Duration(last))
		}
		last = st.At
	}
	return &sc, nil
}

func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}

	// Round-trip through JSON so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// EngineConfig returns the default engine configuration with the
// scenario's overrides applied and validated.
func (sc *Scenario) EngineConfig() (config.EngineConfig, error) {
	cfg := config.DefaultConfig()
	if len(sc.Engine) > 0 {
		raw, err := yaml.Marshal(sc.Engine)
		if err != nil {
			return cfg.Engine, fmt.Errorf("encode engine overrides: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg.Engine); err != nil {
			return cfg.Engine, fmt.Errorf("%w: engine: %v", ErrInvalidScenario, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg.Engine, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return cfg.Engine, nil
}

// Options returns the field options the scenario runs with.
func (sc *Scenario) Options() (field.Options, error) {
	ec, err := sc.EngineConfig()
	if err != nil {
		return field.Options{}, err
	}
	return ec.Options()
}

// Fields lists the field ids the scenario touches, in first-use order.
func (sc *Scenario) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, st := range sc.Steps {
		if st.Field != "" && !seen[st.Field] {
			seen[st.Field] = true
			out = append(out, st.Field)
		}
	}
	return out
}

func (st Step) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", time.Duration(st.At), st.Op)
	if st.Field != "" {
		fmt.Fprintf(&b, " %s", st.Field)
	}
	if st.Key != "" {
		fmt.Fprintf(&b, " key=%s", st.Key)
	}
	if st.Value != "" {
		fmt.Fprintf(&b, " %q", st.Value)
	}
	return b.String()
}
