package schema

import _ "embed"

// SessionV1Schema contains the JSON schema for session files.
//
//go:embed session.v1.json
var SessionV1Schema []byte
