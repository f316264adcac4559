// core/scenario_loader.go
package core

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// Format selects the encoding of a scenario document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	// ErrInvalidScenario indicates the scenario failed schema or semantic validation.
	ErrInvalidScenario = errors.New("invalid scenario")
	// ErrUnsupportedFormat indicates an unknown scenario encoding.
	ErrUnsupportedFormat = errors.New("unsupported scenario format")
)

//go:embed schema/scenario.schema.json
var scenarioSchemaJSON string

var scenarioSchema = jsonschema.MustCompileString("scenario.schema.json", scenarioSchemaJSON)

// FormatFromPath picks the scenario format from a file extension,
// defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadScenarioFile reads and validates the scenario stored at path.
func LoadScenarioFile(path string) (*model.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()
	return LoadScenario(f, FormatFromPath(path))
}

// LoadScenario decodes a scenario from r, validates it against the embedded
// JSON schema and then checks the semantic constraints the schema cannot
// express (cut ordering, positions inside the grid, ...).
func LoadScenario(r io.Reader, format Format) (*model.Scenario, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: read failed: %w", err)
	}

	switch format {
	case FormatJSON, "":
	case FormatYAML:
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	if err := scenarioSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	var scenario model.Scenario
	if err := json.Unmarshal(raw, &scenario); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	if err := ValidateScenario(&scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// WriteScenario encodes the scenario in the requested format.
func WriteScenario(w io.Writer, scenario *model.Scenario, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(scenario); err != nil {
			return fmt.Errorf("encode scenario: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(scenario)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ValidateScenario checks the constraints every engine relies on.
func ValidateScenario(s *model.Scenario) error {
	if s.GridSize.X <= 0 || s.GridSize.Y <= 0 {
		return invalid("grid size %s must be positive", s.GridSize)
	}
	if s.Ticks < 0 {
		return invalid("ticks %d must not be negative", s.Ticks)
	}
	if err := validateCuts("x", s.Partition.X, s.GridSize.X); err != nil {
		return err
	}
	if err := validateCuts("y", s.Partition.Y, s.GridSize.Y); err != nil {
		return err
	}

	p := s.Parameters
	if p.InfectionRadius < 0 || p.IncubationTime < 0 || p.InfectionTime < 0 || p.RecoveryTime < 0 {
		return invalid("model parameters must not be negative")
	}
	for name, v := range map[string]float64{
		"cough_probability":  p.CoughProbability,
		"breath_probability": p.BreathProbability,
		"turn_probability":   p.TurnProbability,
	} {
		if v < 0 || v > 1 {
			return invalid("%s %v outside [0,1]", name, v)
		}
	}

	grid := s.Grid()
	for i, info := range s.Population {
		if !grid.Contains(info.Position) {
			return invalid("person %d (%s) at %s is outside the grid", i, info.Name, info.Position)
		}
		if Blocked(s.Obstacles, info.Position) {
			return invalid("person %d (%s) at %s stands inside an obstacle", i, info.Name, info.Position)
		}
		if _, err := model.ParseInfectionState(string(info.State)); err != nil {
			return invalid("person %d: %v", i, err)
		}
		if abs(info.Direction.X) > 1 || abs(info.Direction.Y) > 1 {
			return invalid("person %d direction %s exceeds one cell", i, info.Direction)
		}
	}
	return nil
}

func validateCuts(axis string, cuts []int, size int) error {
	if !slices.IsSorted(cuts) {
		return invalid("partition %s cuts %v are not sorted", axis, cuts)
	}
	for i, c := range cuts {
		if c <= 0 || c >= size {
			return invalid("partition %s cut %d outside (0,%d)", axis, c, size)
		}
		if i > 0 && cuts[i-1] == c {
			return invalid("partition %s cut %d repeated", axis, c)
		}
	}
	return nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("LoadScenario: yaml decode failed: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: yaml document is not JSON compatible: %w", err)
	}
	return out, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidScenario, fmt.Sprintf(format, args...))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
