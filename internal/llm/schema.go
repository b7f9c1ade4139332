package llm

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema renders the JSON schema of T as indented JSON for embedding in a prompt.
// Properties are inlined (no $ref) so the model sees one self-contained object.
func Schema[T any]() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}
