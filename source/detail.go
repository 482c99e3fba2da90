package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	. "jobmonitor/common"
	"jobmonitor/process"
	"jobmonitor/sampler"
)

// Per-job detail printed by a site command that is run with the job id as its last argument.  The
// output is one JSON object:
//
//   {"interactive": false,
//    "nodes": [{"node": "r3c4cn02", "cores": 20}, ...],
//    "mem_used_gb": 10.5, "mem_requested_gb": 16,
//    "walltime_used": 3600, "walltime_remaining": 82800,
//    "core_load": ["...", ...]}
//
// Numbers may be given as strings, and walltimes as HH:MM:SS.  A missing walltime_remaining means it
// is unknown.
type DetailCommand struct {
	program   string
	arguments []string
}

var _ = sampler.DetailSource((*DetailCommand)(nil))

type detailNode struct {
	Node  string `mapstructure:"node"`
	Cores int    `mapstructure:"cores"`
}

type detailRecord struct {
	Interactive          bool         `mapstructure:"interactive"`
	Nodes                []detailNode `mapstructure:"nodes"`
	MemUsedGB            float64      `mapstructure:"mem_used_gb"`
	MemRequestedGB       float64      `mapstructure:"mem_requested_gb"`
	WallUsedSeconds      int64        `mapstructure:"walltime_used"`
	WallRemainingSeconds *int64       `mapstructure:"walltime_remaining"`
	CoreLoad             []string     `mapstructure:"core_load"`
}

func NewDetailCommand(command string) (*DetailCommand, error) {
	program, arguments, err := process.SplitCommand(command)
	if err != nil {
		return nil, err
	}
	return &DetailCommand{program: program, arguments: arguments}, nil
}

func (dc *DetailCommand) FetchJobDetail(ctx context.Context, id string) (*sampler.Detail, error) {
	args := append(append([]string{}, dc.arguments...), id)
	stdout, _, err := process.RunSubprocess(ctx, dc.program, args)
	if err != nil {
		return nil, err
	}
	return DecodeDetail([]byte(stdout))
}

func DecodeDetail(data []byte) (*sampler.Detail, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("Detail is not a JSON object: %w", err)
	}
	var rec detailRecord
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       hhmmssHook,
		Result:           &rec,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("Bad detail: %w", err)
	}
	d := &sampler.Detail{
		Interactive:          rec.Interactive,
		MemUsedGB:            rec.MemUsedGB,
		MemRequestedGB:       rec.MemRequestedGB,
		WallUsedSeconds:      rec.WallUsedSeconds,
		WallRemainingSeconds: -1,
		CoreLoad:             rec.CoreLoad,
	}
	if rec.WallRemainingSeconds != nil {
		d.WallRemainingSeconds = *rec.WallRemainingSeconds
	}
	for _, n := range rec.Nodes {
		if n.Node == "" {
			return nil, errors.New("Bad detail: node without name")
		}
		d.Nodes = append(d.Nodes, sampler.NodeCores{Node: n.Node, Cores: n.Cores})
	}
	return d, nil
}

func hhmmssHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Int64 {
		return data, nil
	}
	if s := data.(string); strings.Contains(s, ":") {
		return ParseHHMMSS(s)
	}
	return data, nil
}

// Job scripts kept in a directory as <jobid> or <jobid>.sh.  Blank lines and comments are dropped,
// scheduler directives are kept.
type ScriptDir struct {
	dir string
}

var _ = sampler.ScriptSource((*ScriptDir)(nil))

func NewScriptDir(dir string) *ScriptDir {
	return &ScriptDir{dir: dir}
}

func (sd *ScriptDir) FetchScript(_ context.Context, id, _ string) ([]string, error) {
	for _, name := range []string{id, id + ".sh"} {
		f, err := os.Open(filepath.Join(sd.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		defer f.Close()
		lines := make([]string, 0)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			l := strings.TrimSpace(scanner.Text())
			if l == "" {
				continue
			}
			if strings.HasPrefix(l, "#") && !strings.HasPrefix(l, "#SBATCH") && !strings.HasPrefix(l, "#PBS") {
				continue
			}
			lines = append(lines, l)
		}
		return lines, scanner.Err()
	}
	return nil, fmt.Errorf("No script for job %s in %s", id, sd.dir)
}
