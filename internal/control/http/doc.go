// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package http

import _ "embed"

// openAPIDoc is the embedded control-surface OpenAPI description used
// both as the contract test fixture and as the document the /openapi.yaml
// route serves to operators.
//
//go:embed openapi.yaml
var openAPIDoc []byte
