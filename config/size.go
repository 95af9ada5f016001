package config

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeSuffixes = []struct {
	suffix string
	mult   uint64
}{
	{"tb", 1 << 40},
	{"gb", 1 << 30},
	{"mb", 1 << 20},
	{"kb", 1 << 10},
	{"b", 1},
}

// ParseSize parses a capacity with a unit suffix (b, kb, mb, gb, tb) into a
// byte count.
func ParseSize(s string) (uint64, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	for _, sfx := range sizeSuffixes {
		if !strings.HasSuffix(trimmed, sfx.suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(trimmed, sfx.suffix))
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		if n == 0 {
			return 0, fmt.Errorf("size must be positive, got %q", s)
		}
		return n * sfx.mult, nil
	}
	return 0, fmt.Errorf("size %q needs a unit suffix (b, kb, mb, gb, tb)", s)
}
