package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"jobmonitor/auth"
	. "jobmonitor/common"
	"jobmonitor/options"
	"jobmonitor/source"
	"jobmonitor/status"
)

// An argument group adds its flags to a verb's flag set, takes defaults from ~/.jobmonitor for
// flags that were not given, and checks the result.  `given` holds the names of the flags that
// were present on the command line.
type argGroup interface {
	Add(fs *flag.FlagSet)
	ApplyDefaults(given map[string]bool)
	Validate() error
}

///////////////////////////////////////////////////////////////////////////////////////////////////
//
// -v and -debug

type VerboseArgs struct {
	Verbose bool
	Debug   bool
}

func (va *VerboseArgs) Add(fs *flag.FlagSet) {
	fs.BoolVar(&va.Verbose, "v", false, "Print verbose diagnostics to stderr")
	fs.BoolVar(&va.Debug, "debug", false, "Print debug diagnostics to stderr (implies -v)")
}

func (va *VerboseArgs) ApplyDefaults(given map[string]bool) {}

func (va *VerboseArgs) Validate() error {
	switch {
	case va.Debug:
		Log.LowerLevelTo(status.LogLevelDebug)
	case va.Verbose:
		Log.LowerLevelTo(status.LogLevelInfo)
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////////////////////////////
//
// -data-dir, the root of the record archive.  Sampling creates it, everyone else requires it.

type DataDirArgs struct {
	DataDir string
	create  bool
}

func (dd *DataDirArgs) Add(fs *flag.FlagSet) {
	fs.StringVar(&dd.DataDir, "data-dir", "",
		"Select the root `directory` for records [default: $HOME/data/jobmonitor]")
}

func (dd *DataDirArgs) ApplyDefaults(given map[string]bool) {
	ApplyDefault(&dd.DataDir, SamplerDataDir)
	if dd.DataDir == "" {
		if d := os.Getenv("HOME"); d != "" {
			dd.DataDir = path.Join(d, "data", "jobmonitor")
		}
	}
}

func (dd *DataDirArgs) Validate() (err error) {
	if dd.create {
		dd.DataDir, err = options.EnsureDirectory(dd.DataDir, "-data-dir")
	} else {
		dd.DataDir, err = options.RequireDirectory(dd.DataDir, "-data-dir")
	}
	return
}

///////////////////////////////////////////////////////////////////////////////////////////////////
//
// Where jobs data come from.  Exactly one of a file, a command and a Kafka broker is required for
// snapshots; details and scripts are optional.

type SourceArgs struct {
	Cluster       string
	Capacity      string
	JobsFile      string
	JobsCommand   string
	DetailCommand string
	ScriptDir     string
}

func (sa *SourceArgs) Add(fs *flag.FlagSet) {
	fs.StringVar(&sa.Cluster, "cluster", "", "Only consider jobs on `cluster`")
	fs.StringVar(&sa.Capacity, "capacity", "", "Read the cluster's node capacity table from `filename`")
	fs.StringVar(&sa.JobsFile, "jobs-file", "", "Read sonar jobs data from `filename`")
	fs.StringVar(&sa.JobsCommand, "jobs-command", "", "Run `command` to produce sonar jobs data")
	fs.StringVar(&sa.DetailCommand, "detail-command", "",
		"Run `command` with a job id to produce detail as JSON [default: from the jobs data]")
	fs.StringVar(&sa.ScriptDir, "script-dir", "", "Read submission scripts from `directory`")
}

func (sa *SourceArgs) ApplyDefaults(given map[string]bool) {
	ApplyDefault(&sa.Cluster, SamplerCluster)
	ApplyDefault(&sa.Capacity, SamplerCapacity)
	ApplyDefault(&sa.JobsFile, SourceJobsFile)
	ApplyDefault(&sa.JobsCommand, SourceJobsCommand)
	ApplyDefault(&sa.DetailCommand, SourceDetailCommand)
	ApplyDefault(&sa.ScriptDir, SourceScriptDir)
}

func (sa *SourceArgs) Validate() error {
	var e1, e2, e3 error
	if sa.JobsFile != "" && sa.JobsCommand != "" {
		e1 = errors.New("-jobs-file and -jobs-command are exclusive")
	}
	sa.Capacity, e2 = options.OptionalFile(sa.Capacity, "-capacity")
	if sa.ScriptDir != "" {
		sa.ScriptDir, e3 = options.RequireDirectory(sa.ScriptDir, "-script-dir")
	}
	return errors.Join(e1, e2, e3)
}

///////////////////////////////////////////////////////////////////////////////////////////////////
//
// Jobs and cluster data from a Kafka broker.  The cluster defaults to -cluster.

type KafkaArgs struct {
	Broker           string
	Cluster          string
	SaslPasswordFile string
	CaFile           string

	saslUser, saslPassword string
}

func (ka *KafkaArgs) Add(fs *flag.FlagSet) {
	fs.StringVar(&ka.Broker, "kafka-broker", "", "Consume sonar data from the Kafka broker at `host:port`")
	fs.StringVar(&ka.Cluster, "kafka-cluster", "", "Consume the topics of `cluster` [default: -cluster]")
	fs.StringVar(&ka.SaslPasswordFile, "kafka-sasl-auth", "",
		"Read SASL `filename` with username:password for the broker")
	fs.StringVar(&ka.CaFile, "kafka-ca", "", "Use TLS with the CA certificate in `filename`")
}

func (ka *KafkaArgs) ApplyDefaults(given map[string]bool) {
	ApplyDefault(&ka.Broker, KafkaBroker)
	ApplyDefault(&ka.Cluster, KafkaCluster)
	ApplyDefault(&ka.CaFile, KafkaCaFile)
	ApplyDefault(&ka.saslUser, KafkaSaslUser)
	ApplyDefault(&ka.saslPassword, KafkaSaslPassword)
}

func (ka *KafkaArgs) Validate() error {
	if ka.Broker == "" {
		return nil
	}
	var e1, e2 error
	if ka.SaslPasswordFile != "" {
		ka.saslUser, ka.saslPassword, e1 = parseAuthFile(ka.SaslPasswordFile)
	}
	ka.CaFile, e2 = options.OptionalFile(ka.CaFile, "-kafka-ca")
	return errors.Join(e1, e2)
}

func (ka *KafkaArgs) Options(cluster string) source.KafkaOptions {
	if ka.Cluster != "" {
		cluster = ka.Cluster
	}
	return source.KafkaOptions{
		Broker:       ka.Broker,
		Cluster:      cluster,
		SaslUser:     ka.saslUser,
		SaslPassword: ka.saslPassword,
		CaFile:       ka.CaFile,
	}
}

///////////////////////////////////////////////////////////////////////////////////////////////////
//
// The optional record catalog.

type DatabaseArgs struct {
	DatabaseURI string
}

func (da *DatabaseArgs) Add(fs *flag.FlagSet) {
	fs.StringVar(&da.DatabaseURI, "database", "", "Keep the record catalog in the database at `uri`")
}

func (da *DatabaseArgs) ApplyDefaults(given map[string]bool) {
	ApplyDefault(&da.DatabaseURI, DatabaseURI)
}

func (da *DatabaseArgs) Validate() error {
	return nil
}

///////////////////////////////////////////////////////////////////////////////////////////////////

func addGroups(fs *flag.FlagSet, groups ...argGroup) {
	for _, g := range groups {
		g.Add(fs)
	}
}

func applyGroupDefaults(given map[string]bool, groups ...argGroup) {
	for _, g := range groups {
		g.ApplyDefaults(given)
	}
}

func validateGroups(groups ...argGroup) error {
	errs := make([]error, 0, len(groups))
	for _, g := range groups {
		errs = append(errs, g.Validate())
	}
	return errors.Join(errs...)
}

func parseAuthFile(filename string) (string, string, error) {
	user, pass, err := auth.ParseAuth(filename)
	if err != nil {
		return "", "", fmt.Errorf("Failed to read authentication file %s: %w", filename, err)
	}
	return user, pass, nil
}

// A -from value that names a daemon rather than a directory.
func isRemote(from string) bool {
	return strings.HasPrefix(from, "http://") || strings.HasPrefix(from, "https://")
}
