package cpu

import (
	"strconv"

	"github.com/sarchlab/tbsim/config"
	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/execunit"
	"github.com/sarchlab/tbsim/fetch"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/memsys"
	"github.com/sarchlab/tbsim/pipeline"
	"github.com/sarchlab/tbsim/scoreboard"
	"github.com/sarchlab/tbsim/sched"
	"github.com/sarchlab/tbsim/simerror"
	"github.com/sarchlab/tbsim/telemetry"
	"github.com/sarchlab/tbsim/trace"
)

// Build wires a validated configuration, a trace, and a logger into a
// composed CPU ready to Simulate.
func Build(cfg *config.Config, tr trace.Trace, log *telemetry.Logger) (*CPU, error) {
	mem, err := buildMemSystem(cfg.MemorySystem)
	if err != nil {
		return nil, err
	}

	pipeMap, err := config.LoadPipeMaps(cfg.PipeMaps)
	if err != nil {
		return nil, err
	}

	scoreboards, err := buildScoreboards(cfg)
	if err != nil {
		return nil, err
	}

	cntr := counter.New()

	exec := execunit.New(execunit.Config{
		BranchPrediction: execunit.BranchPrediction(cfg.BranchPrediction),
	}, pipeMap, scoreboards)
	exec.SetLogger(log.Unit("EX"))

	if err := buildPipes(cfg, mem, scoreboards, exec); err != nil {
		return nil, err
	}

	schedU := sched.New(sched.Config{
		DecodeRate:       config.SizePtr(decodeRate(cfg)),
		BranchPrediction: sched.BranchPrediction(cfg.BranchPrediction),
	})
	schedU.SetLogger(log.Unit("SC"))
	for qid, iq := range cfg.IssueQueues {
		schedU.AddQueue(qid, config.SizePtr(iq.Size))
	}

	fqSize := cfg.FetchQueueSize
	fetchU := fetch.New(fetch.Config{
		BranchPrediction: fetch.BranchPrediction(cfg.BranchPrediction),
		FetchRate:        cfg.FetchRate,
		FetchQueueSize:   config.SizePtr(fqSize),
	}, tr)
	fetchU.SetLogger(log.Unit("FE"))

	schedU.Connect(fetchU, exec)
	exec.Connect(schedU, fetchU, schedU)

	return New(mem, exec, schedU, fetchU, cntr, log), nil
}

// decodeRate translates the config's 0-means-unlimited encoding into the
// -1-means-unbounded one SizePtr expects.
func decodeRate(cfg *config.Config) int {
	if cfg.DecodeRate <= 0 {
		return -1
	}
	return cfg.DecodeRate
}

func buildMemSystem(ms *config.MemorySystem) (*memsys.System, error) {
	desc := memsys.Desc{Latencies: memsys.Latencies{}}
	if ms != nil {
		for k, v := range ms.Latencies {
			desc.Latencies[memsys.ReqKind(k)] = v
		}
		for _, lvl := range ms.Levels {
			d, err := levelDesc(lvl)
			if err != nil {
				return nil, err
			}
			desc.Levels = append(desc.Levels, d)
		}
	}
	return memsys.Build(desc)
}

func levelDesc(lvl config.CacheLevel) (memsys.LevelDesc, error) {
	size, err := config.ParseSize(lvl.Size)
	if err != nil {
		return memsys.LevelDesc{}, &simerror.ConfigError{
			Location: "memory_system." + lvl.Name, Message: err.Error()}
	}

	d := memsys.LevelDesc{
		Name:      lvl.Name,
		Kind:      memsys.LevelKind(lvl.Type),
		LineBits:  lvl.LineSize,
		SizeBytes: size,
		Placement: memsys.Placement{
			Type:        memsys.PlacementType(lvl.Placement.Type),
			SetSize:     lvl.Placement.SetSize,
			Replacement: lvl.Placement.Replacement,
		},
		WritePolicy:         memsys.WritePolicy(lvl.WritePolicy),
		Inclusion:           memsys.Inclusion(lvl.Inclusion),
		Latencies:           memsys.Latencies{},
		StoreForwardLatency: lvl.StoreForwardLatency,
	}
	for k, v := range lvl.Latencies {
		d.Latencies[memsys.ReqKind(k)] = v
	}
	for _, child := range lvl.Levels {
		cd, err := levelDesc(child)
		if err != nil {
			return memsys.LevelDesc{}, err
		}
		d.Levels = append(d.Levels, cd)
	}
	return d, nil
}

func buildScoreboards(cfg *config.Config) (pipeline.RegFileScoreboards, error) {
	out := pipeline.RegFileScoreboards{}
	for name, rf := range cfg.RegisterFiles {
		sbCfg := scoreboard.Config{
			ReadPorts:           config.SizePtr(rf.ReadPorts),
			DedicatedReadPorts:  rf.DedicatedReadPorts,
			WritePorts:          config.SizePtr(rf.WritePorts),
			DedicatedWritePorts: rf.DedicatedWritePorts,
		}
		switch rf.Type {
		case "scalar":
			out[instr.RegFile(name)] = scoreboard.NewScalar(name, sbCfg)
		case "vector":
			out[instr.RegFile(name)] = scoreboard.NewVector(name, sbCfg, cfg.VectorSlices)
		default:
			return nil, &simerror.ConfigError{Location: "register_files." + name,
				Message: "unknown register file type " + rf.Type}
		}
	}
	return out, nil
}

func buildPipes(cfg *config.Config, mem *memsys.System,
	scoreboards pipeline.RegFileScoreboards, exec *execunit.Unit) error {
	for kind, fu := range cfg.FunctionalUnits {
		var memPort pipeline.MemPort
		if fu.MemoryInterface != "" {
			memPort = mem.Port(fu.MemoryInterface)
		}

		pipes := make([]pipeline.Pipe, fu.Count)
		for n := 0; n < fu.Count; n++ {
			name := kind
			if fu.Count > 1 {
				name = kind + strconv.Itoa(n)
			}
			pcfg := pipeline.Config{
				Name:              name,
				Kind:              kind,
				IssueQueueID:      fu.IssueQueue,
				EIQSize:           config.SizePtr(fu.EIQSize),
				CanSkipEIQ:        fu.CanSkipEIQ,
				Depth:             fu.Depth,
				Pipelined:         fu.Pipelined,
				WritebackBuffSize: config.SizePtr(fu.WritebackBuffSize),
				Mem:               memPort,
				LoadStage:         fu.LoadStage,
				FixedLoadLatency:  fu.FixedLoadLatency,
				StoreStage:        fu.StoreStage,
				FixedStoreLatency: fu.FixedStoreLatency,
			}
			switch fu.Type {
			case "vector":
				pipes[n] = pipeline.NewVector(pcfg, cfg.VectorSlices, scoreboards)
			default:
				pipes[n] = pipeline.NewScalar(pcfg, scoreboards)
			}
		}
		exec.AddPipe(kind, pipes...)
	}
	return nil
}
