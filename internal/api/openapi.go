package api

import _ "embed"

//go:embed openapi.yaml
var openAPIDoc []byte

// OpenAPIDoc returns the daemon's static API description, for the
// --openapi CLI flag.
func OpenAPIDoc() []byte { return openAPIDoc }
