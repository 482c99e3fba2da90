package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/robfig/cron/v3"

	"jobmonitor/capacity"
	. "jobmonitor/common"
	"jobmonitor/daemon"
	"jobmonitor/metrics"
	"jobmonitor/sampler"
	"jobmonitor/source"
	"jobmonitor/status"
	"jobmonitor/store"
)

const sampleLogTag = "jobmonitor/sample"

type SampleCommand struct {
	VerboseArgs
	DataDirArgs
	SourceArgs
	KafkaArgs
	DatabaseArgs

	threshold      uint
	interval       uint
	schedule       string
	correctEffic   bool
	publishRunning bool
	compress       bool
	ascending      bool
	port           uint
}

func (sc *SampleCommand) groups() []argGroup {
	return []argGroup{&sc.VerboseArgs, &sc.DataDirArgs, &sc.SourceArgs, &sc.KafkaArgs, &sc.DatabaseArgs}
}

func (sc *SampleCommand) Summary() string {
	return "Sample the running jobs, once or repeatedly, and report jobs that misbehave"
}

func (sc *SampleCommand) Add(fs *flag.FlagSet) {
	addGroups(fs, sc.groups()...)
	fs.UintVar(&sc.threshold, "threshold", 70, "Flag jobs with an efficiency below `percent`")
	fs.UintVar(&sc.interval, "interval", 0, "Sample every `seconds` [default: once]")
	fs.StringVar(&sc.schedule, "schedule", "", "Sample on the cron `spec`, eg \"*/5 * * * *\"")
	fs.BoolVar(&sc.correctEffic, "correct-effic", true,
		"Scale efficiency to the master host when worker nodes report no cpu time")
	fs.BoolVar(&sc.publishRunning, "publish-running", false,
		"Publish running jobs with warnings, and the snapshot marker, for viewers")
	fs.BoolVar(&sc.compress, "compress", false, "Compress the records")
	fs.BoolVar(&sc.ascending, "ascending", false, "Sort the overview by user in ascending order")
	fs.UintVar(&sc.port, "port", 0, "Serve the records and metrics on `port` while sampling")
}

func (sc *SampleCommand) ApplyDefaults(given map[string]bool) {
	applyGroupDefaults(given, sc.groups()...)
	ApplyUintDefault(&sc.threshold, given["threshold"], SamplerThreshold)
	ApplyUintDefault(&sc.interval, given["interval"], SamplerInterval)
	if !given["interval"] {
		ApplyDefault(&sc.schedule, SamplerSchedule)
	}
	ApplyBoolDefault(&sc.correctEffic, given["correct-effic"], SamplerCorrectEffic)
	ApplyBoolDefault(&sc.publishRunning, given["publish-running"], SamplerPublishRunning)
	ApplyBoolDefault(&sc.compress, given["compress"], SamplerCompress)
	if sc.port != 0 {
		sc.publishRunning = true
	}
}

func (sc *SampleCommand) Validate() error {
	sc.DataDirArgs.create = true
	var e1, e2, e3, e4 error
	e1 = validateGroups(sc.groups()...)
	sources := 0
	for _, s := range []string{sc.JobsFile, sc.JobsCommand, sc.Broker} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		e2 = errors.New("Exactly one of -jobs-file, -jobs-command and -kafka-broker is required")
	}
	if sc.interval > 0 && sc.schedule != "" {
		e3 = errors.New("-interval and -schedule are exclusive")
	}
	if sc.schedule != "" {
		if _, err := cron.ParseStandard(sc.schedule); err != nil {
			e4 = fmt.Errorf("Bad -schedule: %w", err)
		}
	}
	if sc.threshold > 100 {
		e4 = errors.Join(e4, errors.New("-threshold must be at most 100"))
	}
	return errors.Join(e1, e2, e3, e4)
}

func (sc *SampleCommand) Perform(ctx context.Context, out io.Writer) error {
	repeating := sc.interval > 0 || sc.schedule != ""
	if repeating {
		z := status.Start(sampleLogTag)
		defer z.Sync()
	}

	var table *capacity.Table
	if sc.Capacity != "" {
		var err error
		table, err = capacity.ReadTable(sc.SourceArgs.Cluster, sc.Capacity)
		if err != nil {
			return err
		}
	}

	slurm := source.NewSlurm(sc.SourceArgs.Cluster)
	if table != nil {
		slurm.SetNodesConfigured(table.Size())
	}
	var snapshots sampler.SnapshotSource
	switch {
	case sc.JobsFile != "":
		snapshots = source.NewFile(sc.JobsFile, slurm)
	case sc.JobsCommand != "":
		cmd, err := source.NewCommand(sc.JobsCommand, slurm)
		if err != nil {
			return err
		}
		snapshots = cmd
	default:
		k, err := source.NewKafka(sc.KafkaArgs.Options(sc.SourceArgs.Cluster), slurm)
		if err != nil {
			return err
		}
		go k.Run(ctx)
		snapshots = k
	}

	cfg := sampler.DefaultConfig()
	cfg.Limits.EfficThreshold = float64(sc.threshold)
	cfg.CorrectEffic = sc.correctEffic
	cfg.Capacity = table
	cfg.PublishRunning = sc.publishRunning
	cfg.Ascending = sc.ascending
	s := sampler.New(cfg, snapshots)
	if sc.DetailCommand != "" {
		dc, err := source.NewDetailCommand(sc.DetailCommand)
		if err != nil {
			return err
		}
		s.SetDetailSource(dc)
	} else {
		s.SetDetailSource(slurm)
	}
	if sc.ScriptDir != "" {
		s.SetScriptSource(source.NewScriptDir(sc.ScriptDir))
	}

	gateway := store.NewGateway(sc.DataDir, sc.compress)
	var catalog *store.PgCatalog
	if sc.DatabaseURI != "" {
		var err error
		catalog, err = store.OpenPgCatalog(ctx, sc.DatabaseURI)
		if err != nil {
			return err
		}
		defer catalog.Close(context.Background())
		gateway.SetCatalog(catalog)
	}
	s.SetArchive(gateway)

	collector := metrics.NewCollector()
	s.SetObserver(collector)

	if sc.port != 0 {
		opts := daemon.Options{
			Version:      version,
			RunningDir:   cfg.RunningDir,
			CompletedDir: cfg.CompletedDir,
			Metrics:      collector.Handler(),
		}
		if catalog != nil {
			opts.Catalog = catalog
		}
		srv := daemon.New(gateway, opts)
		go func() {
			if err := srv.Serve(ctx, int(sc.port)); err != nil {
				Log.Errorf("Could not serve records: %v", err)
			}
		}()
	}

	if !repeating {
		return sampleOnce(ctx, s, out)
	}

	run := func() {
		if err := sampleOnce(ctx, s, out); err != nil {
			if errors.Is(err, sampler.ErrNoRunningJobs) {
				status.Fatalf("%v: the job source is probably broken", err)
			}
			Log.Warning(err.Error())
		}
	}
	if sc.schedule != "" {
		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		if _, err := c.AddFunc(sc.schedule, run); err != nil {
			return err
		}
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	}

	ticker := time.NewTicker(time.Duration(sc.interval) * time.Second)
	defer ticker.Stop()
	run()
	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return nil
		}
	}
}

// Take one snapshot and print its overview.  Persistence failures are logged but the overview is
// still printed, as the snapshot was processed.
func sampleOnce(ctx context.Context, s *sampler.Sampler, out io.Writer) error {
	ts, err := s.Sample(ctx)
	if err != nil {
		if !errors.Is(err, sampler.ErrPersistence) {
			return err
		}
		Log.Errorf("Snapshot %s: %v", ts, err)
	}
	if _, err := fmt.Fprintln(out, s.Overview(ts)); err != nil {
		return err
	}
	return nil
}
