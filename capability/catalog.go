package capability

import (
	_ "embed"

	"github.com/BurntSushi/toml"

	"github.com/stratahq/strata/errors"
)

//go:embed catalog.toml
var builtinCatalog []byte

type catalogFile struct {
	Capabilities []*Capability `toml:"capabilities"`
}

// BuiltinRegistry returns a registry populated with the embedded catalog.
func BuiltinRegistry() (*Registry, error) {
	return registryFromTOML(builtinCatalog)
}

// RegistryFromFile loads a capability catalog from a TOML file. Used by
// deployments that extend the built-in intents.
func RegistryFromFile(data []byte) (*Registry, error) {
	return registryFromTOML(data)
}

func registryFromTOML(data []byte) (*Registry, error) {
	var file catalogFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse capability catalog")
	}

	registry := NewRegistry()
	for _, cap := range file.Capabilities {
		if err := registry.Register(cap); err != nil {
			return nil, errors.Wrapf(err, "register capability %s", cap.ID)
		}
	}
	return registry, nil
}
