package panel

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/benchline/internal/provision"
)

// Point is a physical position in bench coordinates, millimetres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Definition describes one panel variant: how many boards it carries,
// where they sit on the bench, the variables its scripts may use, and
// the provisioning and test scripts themselves.
type Definition struct {
	Name string `yaml:"name" json:"name"`

	// Grid geometry. Rows and Cols size the board grid; positions are
	// 1-based.
	Rows int `yaml:"rows" json:"rows"`
	Cols int `yaml:"cols" json:"cols"`

	// Physical layout. Board (1,1) sits at the origin; each further
	// column adds ColPitch on X, each further row RowPitch on Y.
	OriginX  float64 `yaml:"origin_x" json:"origin_x"`
	OriginY  float64 `yaml:"origin_y" json:"origin_y"`
	ColPitch float64 `yaml:"col_pitch" json:"col_pitch"`
	RowPitch float64 `yaml:"row_pitch" json:"row_pitch"`

	// ProbePlane is the Z height at which the probes contact the board.
	ProbePlane float64 `yaml:"probe_plane" json:"probe_plane"`

	// CustomVariables are panel-wide values available to scripts as
	// {name} placeholders.
	CustomVariables map[string]string `yaml:"custom_variables" json:"custom_variables,omitempty"`

	// Provision is the per-board provisioning script. Required.
	Provision *provision.Script `yaml:"provision" json:"-"`

	// Test is the optional functional-test script.
	Test *provision.Script `yaml:"test" json:"-"`
}

// Load reads a panel definition from a YAML file, validates it, and
// compiles its scripts.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading panel definition: %w", err)
	}

	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("parsing panel definition: %w", err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	if err := def.Provision.Compile(); err != nil {
		return nil, fmt.Errorf("provision script: %w", err)
	}
	if def.Test != nil {
		if err := def.Test.Compile(); err != nil {
			return nil, fmt.Errorf("test script: %w", err)
		}
	}

	return def, nil
}

// Validate checks the definition's geometry and script presence. All
// problems are collected into a single ErrInvalidDefinition.
func (d *Definition) Validate() error {
	var problems []string

	if d.Name == "" {
		problems = append(problems, "name is required")
	}
	if d.Rows < 1 {
		problems = append(problems, fmt.Sprintf("rows must be at least 1, got %d", d.Rows))
	}
	if d.Cols < 1 {
		problems = append(problems, fmt.Sprintf("cols must be at least 1, got %d", d.Cols))
	}
	if d.Cols > 1 && d.ColPitch <= 0 {
		problems = append(problems, "col_pitch must be positive for multi-column panels")
	}
	if d.Rows > 1 && d.RowPitch <= 0 {
		problems = append(problems, "row_pitch must be positive for multi-row panels")
	}
	if d.Provision == nil {
		problems = append(problems, "provision script is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}
	return nil
}

// PositionOf returns the physical point of a board position. Row and
// col are 1-based; Z is the probe plane.
func (d *Definition) PositionOf(row, col int) Point {
	return Point{
		X: d.OriginX + float64(col-1)*d.ColPitch,
		Y: d.OriginY + float64(row-1)*d.RowPitch,
		Z: d.ProbePlane,
	}
}

// BoardCount returns the number of board positions on the panel.
func (d *Definition) BoardCount() int {
	return d.Rows * d.Cols
}
