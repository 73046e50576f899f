package toolsurface

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
)

// toolSchema names one tool's request/response pair for schema rendering.
type toolSchema struct {
	Name    string
	Request any
	Response any
}

// registeredSchemas lists every tool's Go structs in registration order, the
// same order Register wires them against the MCP server.
var registeredSchemas = []toolSchema{
	{"repo_rlm_start", StartRunInput{}, RunOutput{}},
	{"repo_rlm_step", StepInput{}, StepOutput{}},
	{"repo_rlm_run", StepInput{}, StepOutput{}},
	{"repo_rlm_status", RunIDInput{}, StatusOutput{}},
	{"repo_rlm_cancel", RunIDInput{}, RunOutput{}},
	{"repo_rlm_resume", RunIDInput{}, RunOutput{}},
	{"repo_rlm_synthesize", SynthesizeInput{}, SynthesizeOutput{}},
	{"repo_rlm_export", ExportInput{}, ExportOutput{}},
	{"rlm", InteractiveRLMInput{}, InteractiveRLMOutput{}},
}

// WriteSchemaDoc renders every registered tool's request/response JSON
// Schema (via invopop/jsonschema's struct-tag reflection) to path, for
// clients that want the tool surface's shape without speaking MCP.
//
// mcp.AddTool infers each tool's InputSchema from its handler's input type
// through the go-sdk's own reflection, so this sidecar is documentation
// rather than something AddTool itself consumes.
func WriteSchemaDoc(path string) error {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}

	doc := make(map[string]any, len(registeredSchemas))
	for _, s := range registeredSchemas {
		doc[s.Name] = map[string]any{
			"request":  reflector.Reflect(s.Request),
			"response": reflector.Reflect(s.Response),
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tool schema doc: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
