package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/yaml"

	"github.com/signalsfoundry/mission-engine/model"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalid wraps every schema or semantic validation failure. It matches
// model.ErrConfiguration.
var ErrInvalid = model.NewConfigError("config", "invalid configuration", nil)

// Schema definitions in schema.cue.
const (
	DefEngine   = "#Engine"
	DefScenario = "#Scenario"
	DefStations = "#Stations"
)

// Validate checks YAML document src against the named schema definition.
func Validate(filename string, src []byte, definition string) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("config: schema has no definition %s", definition)
	}

	file, err := yaml.Extract(filename, src)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalid, filename, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalid, filename, err)
	}

	merged := def.Unify(doc)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalid, filename, cueerrors.Details(err, nil))
	}
	return nil
}
