package config

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/tbsim/simerror"
)

// mergeTrees lays ext over base: maps merge recursively, everything else
// (scalars, sequences) is replaced wholesale by the extension's value.
func mergeTrees(base, ext map[string]any) map[string]any {
	for k, v := range ext {
		if bm, ok := base[k].(map[string]any); ok {
			if em, ok := v.(map[string]any); ok {
				base[k] = mergeTrees(bm, em)
				continue
			}
		}
		base[k] = v
	}
	return base
}

// applyOverride applies one -s PATH=VALUE flag to the merged tree. The path
// is dotted (functional_units.alu.depth); a numeric segment indexes into a
// sequence. The path must already exist — an override can change a value,
// never invent a key the schema doesn't have.
func applyOverride(tree map[string]any, override string) error {
	path, rawValue, ok := strings.Cut(override, "=")
	if !ok {
		return &simerror.ConfigError{Location: override,
			Message: "override must have the form PATH=VALUE"}
	}

	var value any
	if err := yaml.Unmarshal([]byte(rawValue), &value); err != nil {
		return &simerror.ConfigError{Location: path, Message: err.Error()}
	}

	segments := strings.Split(path, ".")
	var node any = tree
	for i, seg := range segments {
		last := i == len(segments)-1

		switch n := node.(type) {
		case map[string]any:
			cur, exists := n[seg]
			if !exists {
				return &simerror.ConfigError{Location: path,
					Message: "override path does not exist: " + seg}
			}
			if last {
				n[seg] = value
				return nil
			}
			node = cur

		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(n) {
				return &simerror.ConfigError{Location: path,
					Message: "override path does not exist: " + seg}
			}
			if last {
				n[idx] = value
				return nil
			}
			node = n[idx]

		default:
			return &simerror.ConfigError{Location: path,
				Message: "override path does not exist: " + seg}
		}
	}
	return nil
}
