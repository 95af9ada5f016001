// Package config loads and validates the declarative microarchitecture
// description the simulator runs against: pipeline topology, register
// files, issue queues, functional-unit shapes, and the cache hierarchy.
// A configuration is built from up to
// three layers: the base uarch file, any number of extension fragments
// merged over it in order, and individual path=value overrides applied
// last.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/tbsim/simerror"
)

// Config is the decoded, validated microarchitecture description.
type Config struct {
	BranchPrediction string `yaml:"branch_prediction"`
	FetchRate        int    `yaml:"fetch_rate"`
	FetchQueueSize   int    `yaml:"fetch_queue_size"`
	// DecodeRate caps instructions decoded per cycle; 0 or absent means
	// unlimited.
	DecodeRate   int `yaml:"decode_rate"`
	VectorSlices int `yaml:"vector_slices"`

	IssueQueues   map[string]IssueQueue   `yaml:"issue_queues"`
	RegisterFiles map[string]RegisterFile `yaml:"register_files"`

	FunctionalUnits map[string]FunctionalUnit `yaml:"functional_units"`

	PipeMaps []string `yaml:"pipe_maps"`

	MemorySystem *MemorySystem `yaml:"memory_system"`
}

// IssueQueue sizes one dispatch queue. Size -1 means unbounded.
type IssueQueue struct {
	Size int `yaml:"size"`
}

// RegisterFile describes one register file's port budget. Port counts of
// -1 mean uncapped.
type RegisterFile struct {
	Type                string   `yaml:"type"` // scalar | vector
	ReadPorts           int      `yaml:"read_ports"`
	WritePorts          int      `yaml:"write_ports"`
	DedicatedReadPorts  []string `yaml:"dedicated_read_ports"`
	DedicatedWritePorts []string `yaml:"dedicated_write_ports"`
}

// FunctionalUnit describes one kind of pipeline and how many instances of
// it exist.
type FunctionalUnit struct {
	Type       string `yaml:"type"` // scalar | vector
	Count      int    `yaml:"count"`
	IssueQueue string `yaml:"issue_queue"`
	Depth      int    `yaml:"depth"`
	Pipelined  bool   `yaml:"pipelined"`
	CanSkipEIQ bool   `yaml:"can_skip_eiq"`
	// EIQSize/WritebackBuffSize of -1 mean unbounded.
	EIQSize           int `yaml:"eiq_size"`
	WritebackBuffSize int `yaml:"writeback_buff_size"`

	// MemoryInterface names the cache level this unit's loads and stores go
	// to; empty means the unit never touches memory.
	MemoryInterface   string `yaml:"memory_interface"`
	LoadStage         *int   `yaml:"load_stage"`
	FixedLoadLatency  int    `yaml:"fixed_load_latency"`
	StoreStage        *int   `yaml:"store_stage"`
	FixedStoreLatency int    `yaml:"fixed_store_latency"`
}

// MemorySystem describes the cache hierarchy and main memory.
type MemorySystem struct {
	Latencies map[string]int `yaml:"latencies"`
	Levels    []CacheLevel   `yaml:"levels"`
}

// CacheLevel describes one cache, recursively holding its children.
type CacheLevel struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // unified | dcache | icache
	// LineSize is in bits.
	LineSize int `yaml:"line_size"`
	// Size carries a unit suffix: b, kb, mb, gb or tb.
	Size        string         `yaml:"size"`
	Placement   Placement      `yaml:"placement"`
	WritePolicy string         `yaml:"write_policy"`
	Inclusion   string         `yaml:"inclusion"`
	Latencies   map[string]int `yaml:"latencies"`
	// StoreForwardLatency is the extra cycles a load pays to forward from
	// a recent store to the same line; 0 disables the model.
	StoreForwardLatency int          `yaml:"store_forward_latency"`
	Levels              []CacheLevel `yaml:"levels"`
}

// Placement selects a level's line-to-set mapping.
type Placement struct {
	Type        string `yaml:"type"` // direct_map | set_assoc
	SetSize     int    `yaml:"set_size"`
	Replacement string `yaml:"replacement"`
}

// SizePtr converts the file encoding of a capacity (-1 = unbounded) to the
// *int shape the queue and scoreboard constructors take.
func SizePtr(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

// Load reads the base uarch description, merges each extension fragment
// over it in order, applies path=value overrides last, and validates the
// result.
func Load(uarchPath string, extensions []string, overrides []string) (*Config, error) {
	merged, err := readTree(uarchPath)
	if err != nil {
		return nil, err
	}

	for _, ext := range extensions {
		tree, err := readTree(ext)
		if err != nil {
			return nil, err
		}
		merged = mergeTrees(merged, tree)
	}

	for _, ov := range overrides {
		if err := applyOverride(merged, ov); err != nil {
			return nil, err
		}
	}

	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, &simerror.ConfigError{Location: uarchPath, Message: err.Error()}
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &simerror.ConfigError{Location: uarchPath, Message: err.Error()}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readTree(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &simerror.ConfigError{Location: path, Message: err.Error()}
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, &simerror.ConfigError{Location: path, Message: err.Error()}
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

func validate(cfg *Config) error {
	fail := func(loc, msg string) error {
		return &simerror.ConfigError{Location: loc, Message: msg}
	}

	switch cfg.BranchPrediction {
	case "perfect", "none":
	default:
		return fail("branch_prediction",
			fmt.Sprintf("must be \"perfect\" or \"none\", got %q", cfg.BranchPrediction))
	}

	if cfg.FetchRate <= 0 {
		return fail("fetch_rate", "must be positive")
	}
	if cfg.FetchQueueSize == 0 || cfg.FetchQueueSize < -1 {
		return fail("fetch_queue_size", "must be positive, or -1 for unbounded")
	}

	for name, rf := range cfg.RegisterFiles {
		switch rf.Type {
		case "scalar":
		case "vector":
			if cfg.VectorSlices <= 0 {
				return fail("vector_slices",
					"must be positive when a vector register file is configured")
			}
		default:
			return fail("register_files."+name,
				fmt.Sprintf("type must be \"scalar\" or \"vector\", got %q", rf.Type))
		}
	}

	if len(cfg.FunctionalUnits) == 0 {
		return fail("functional_units", "at least one functional unit is required")
	}

	memLevels := map[string]bool{}
	if cfg.MemorySystem != nil {
		if err := collectLevels(cfg.MemorySystem.Levels, "memory_system", memLevels); err != nil {
			return err
		}
	}

	for kind, fu := range cfg.FunctionalUnits {
		loc := "functional_units." + kind
		switch fu.Type {
		case "scalar", "vector":
		default:
			return fail(loc, fmt.Sprintf("type must be \"scalar\" or \"vector\", got %q", fu.Type))
		}
		if fu.Count <= 0 {
			return fail(loc+".count", "must be positive")
		}
		if _, ok := cfg.IssueQueues[fu.IssueQueue]; !ok {
			return fail(loc+".issue_queue", fmt.Sprintf("unknown issue queue %q", fu.IssueQueue))
		}
		if fu.Depth <= 0 {
			return fail(loc+".depth", "must be positive")
		}
		if fu.LoadStage != nil && (*fu.LoadStage < 0 || *fu.LoadStage >= fu.Depth) {
			return fail(loc+".load_stage", "must lie within the pipeline depth")
		}
		if fu.StoreStage != nil && (*fu.StoreStage < 0 || *fu.StoreStage >= fu.Depth) {
			return fail(loc+".store_stage", "must lie within the pipeline depth")
		}
		if fu.MemoryInterface != "" && !memLevels[fu.MemoryInterface] {
			return fail(loc+".memory_interface",
				fmt.Sprintf("unknown cache level %q", fu.MemoryInterface))
		}
		if (fu.LoadStage != nil || fu.StoreStage != nil) && fu.MemoryInterface == "" && cfg.MemorySystem != nil && len(cfg.MemorySystem.Levels) > 0 {
			return fail(loc, "load_stage/store_stage require a memory_interface when caches are configured")
		}
	}

	if cfg.MemorySystem != nil {
		if err := validateLevels(cfg.MemorySystem.Levels, "memory_system"); err != nil {
			return err
		}
	}

	return nil
}

func collectLevels(levels []CacheLevel, loc string, out map[string]bool) error {
	for _, lvl := range levels {
		if out[lvl.Name] {
			return &simerror.ConfigError{Location: loc + "." + lvl.Name,
				Message: "duplicate cache level name"}
		}
		out[lvl.Name] = true
		if err := collectLevels(lvl.Levels, loc+"."+lvl.Name, out); err != nil {
			return err
		}
	}
	return nil
}

func validateLevels(levels []CacheLevel, loc string) error {
	for _, lvl := range levels {
		here := loc + "." + lvl.Name
		fail := func(msg string) error {
			return &simerror.ConfigError{Location: here, Message: msg}
		}

		switch lvl.Type {
		case "unified", "dcache", "icache":
		default:
			return fail(fmt.Sprintf("unknown cache type %q", lvl.Type))
		}
		if lvl.LineSize <= 0 || lvl.LineSize%8 != 0 {
			return fail("line_size must be a positive number of bits, divisible by 8")
		}
		if _, err := ParseSize(lvl.Size); err != nil {
			return fail(err.Error())
		}
		switch lvl.Placement.Type {
		case "direct_map":
		case "set_assoc":
			if lvl.Placement.SetSize <= 0 {
				return fail("placement.set_size must be positive")
			}
			if lvl.Placement.Replacement != "LRU" {
				return fail(fmt.Sprintf("unsupported replacement policy %q", lvl.Placement.Replacement))
			}
		default:
			return fail(fmt.Sprintf("unknown placement type %q", lvl.Placement.Type))
		}
		switch lvl.WritePolicy {
		case "write_back", "write_through":
		default:
			return fail(fmt.Sprintf("unknown write policy %q", lvl.WritePolicy))
		}
		switch lvl.Inclusion {
		case "inclusive", "exclusive":
		default:
			return fail(fmt.Sprintf("unknown inclusion policy %q", lvl.Inclusion))
		}
		if lvl.StoreForwardLatency < 0 {
			return fail("store_forward_latency must not be negative")
		}

		if err := validateLevels(lvl.Levels, here); err != nil {
			return err
		}
	}
	return nil
}
