// Package settings persists the small amount of state the device manager
// needs across process restarts: the port chain the user last selected.
// Grounded on src/deviceid.go's YAML-via-gopkg.in/yaml.v3 loading, adapted
// from a read-only reference table to a read/write single-value store.
package settings

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Store is the on-disk shape of persisted settings. It is kept minimal and
// versioned by field addition, not by a schema number, in keeping with
// yaml.v3's tolerant decoding of unknown/missing fields.
type Store struct {
	path string

	CurrentPortChain string `yaml:"current_port_chain"`
}

// Open loads settings from path if it exists, or returns an empty Store
// bound to path if it does not. A missing file is not an error: the first
// Save call creates it.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// Save writes the current field values back to the bound path.
func (s *Store) Save() error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// SetCurrentPortChain updates and persists the selected port chain in one
// call; an empty value clears the persisted selection.
func (s *Store) SetCurrentPortChain(portChain string) error {
	s.CurrentPortChain = portChain
	return s.Save()
}
