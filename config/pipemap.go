package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/tbsim/simerror"
)

// LoadPipeMaps reads each mnemonic -> functional-unit-kind mapping file and
// folds them into one map, later files overriding earlier ones. A value of
// "UNKNOWN" drops the mnemonic's mapping entirely.
func LoadPipeMaps(paths []string) (map[string]string, error) {
	merged := map[string]string{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &simerror.ConfigError{Location: path, Message: err.Error()}
		}
		var m map[string]string
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, &simerror.ConfigError{Location: path, Message: err.Error()}
		}
		for mnemonic, kind := range m {
			if kind == "UNKNOWN" {
				delete(merged, mnemonic)
				continue
			}
			merged[mnemonic] = kind
		}
	}
	return merged, nil
}
