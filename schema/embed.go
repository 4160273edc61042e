package schema

import _ "embed"

// OpenAPI holds the embedded OpenAPI document for the VOID supply read API.
//
//go:embed openapi.yaml
var OpenAPI []byte
