package config

import (
	"bytes"
	"io"
	"os"
)

// newEnvExpandingReader expands ${VAR} / $VAR references against the
// process environment before the YAML decoder ever sees the document, the
// same convention the wider pack's config loaders use for secrets and
// per-environment overrides.
func newEnvExpandingReader(data []byte) io.Reader {
	expanded := os.Expand(string(data), os.Getenv)
	return bytes.NewReader([]byte(expanded))
}
