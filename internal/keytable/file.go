package keytable

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// fileEntry is the on-disk form of an entry in a key file:
//
//	keys:
//	  - name: trailer
//	    kid: LNsO1hGYU-eFBnHD6ZBsPA
//	    key: 808b9adac384de1e4f56140f4ad76194
type fileEntry struct {
	Name string `yaml:"name"`
	Kid  string `yaml:"kid"`
	Key  string `yaml:"key"`
}

type keyFile struct {
	Keys []fileEntry `yaml:"keys"`
}

// LoadFile reads extra entries from a YAML key file.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses the YAML key file format.
func ParseFile(data []byte) ([]Entry, error) {
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	entries := make([]Entry, 0, len(kf.Keys))
	for i, fe := range kf.Keys {
		key, err := ParseHexKey(fe.Key)
		if err != nil {
			return nil, fmt.Errorf("key file entry %d (%s): %w", i, fe.Kid, err)
		}
		entries = append(entries, Entry{Name: fe.Name, KeyID: fe.Kid, Key: key})
	}
	return entries, nil
}

// Load returns the seed table extended with the entries of path. An empty
// path yields the seed table.
func Load(path string) (*Table, error) {
	entries := Seed()
	if path != "" {
		extra, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, extra...)
	}
	return New(entries...)
}
