package catalog

import _ "embed"

//go:embed builtin.yaml
var builtinYAML []byte

// LoadDefault loads the embedded built-in catalog, merging userYAML on top
// if non-empty. This is the entry point callers outside the package
// reach for (cmd/sqlrecover); package-internal tests call Load directly
// with an inline document instead.
func LoadDefault(userYAML []byte) (*Catalog, error) {
	return Load(builtinYAML, userYAML)
}
