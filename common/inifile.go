// Defaults for command line options are read from ~/.jobmonitor, an ini file.  A value in the file
// is used only if the option was not given on the command line.  String values are subject to
// environment variable expansion.
//
//   [sampler]
//   data-dir = $HOME/data/jobmonitor
//   cluster = hopper
//   capacity = /etc/jobmonitor/hopper.json
//   threshold = 70
//   interval = 300
//   schedule = */5 * * * *
//   correct-effic = true
//   publish-running = true
//   compress = false
//
//   [source]
//   jobs-file, jobs-command, detail-command, script-dir
//
//   [kafka]
//   broker, cluster, sasl-user, sasl-password, ca-file
//
//   [database]
//   uri
//
//   [daemon]
//   listen-port = 8097
//   password-file = /etc/jobmonitor/passwords

package common

import (
	"errors"
	"io"
	"os"
	"path"

	ini "github.com/lars-t-hansen/ini"
)

// MT: Constant after initialization
var (
	p     = ini.NewParser()
	store *ini.Store

	samplerSect           = p.AddSection("sampler")
	SamplerDataDir        = samplerSect.AddString("data-dir")
	SamplerCluster        = samplerSect.AddString("cluster")
	SamplerCapacity       = samplerSect.AddString("capacity")
	SamplerThreshold      = samplerSect.AddUint64("threshold")
	SamplerInterval       = samplerSect.AddUint64("interval")
	SamplerSchedule       = samplerSect.AddString("schedule")
	SamplerCorrectEffic   = samplerSect.AddBool("correct-effic")
	SamplerPublishRunning = samplerSect.AddBool("publish-running")
	SamplerCompress       = samplerSect.AddBool("compress")

	sourceSect          = p.AddSection("source")
	SourceJobsFile      = sourceSect.AddString("jobs-file")
	SourceJobsCommand   = sourceSect.AddString("jobs-command")
	SourceDetailCommand = sourceSect.AddString("detail-command")
	SourceScriptDir     = sourceSect.AddString("script-dir")

	kafkaSect         = p.AddSection("kafka")
	KafkaBroker       = kafkaSect.AddString("broker")
	KafkaCluster      = kafkaSect.AddString("cluster")
	KafkaSaslUser     = kafkaSect.AddString("sasl-user")
	KafkaSaslPassword = kafkaSect.AddString("sasl-password")
	KafkaCaFile       = kafkaSect.AddString("ca-file")

	databaseSect = p.AddSection("database")
	DatabaseURI  = databaseSect.AddString("uri")

	daemonSect         = p.AddSection("daemon")
	DaemonListenPort   = daemonSect.AddUint64("listen-port")
	DaemonPasswordFile = daemonSect.AddString("password-file")
)

func init() {
	home := os.Getenv("HOME")
	if home == "" {
		return
	}
	fn := path.Join(path.Clean(home), ".jobmonitor")
	input, err := os.Open(fn)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			Log.Errorf("Error in trying to open %s: %s", fn, err.Error())
		}
		return
	}
	defer input.Close()
	if err := LoadDefaults(input); err != nil {
		Log.Errorf("Error in trying to parse %s: %s", fn, err.Error())
	}
}

// Replace the defaults with those read from input.  Used by init() and by tests.
func LoadDefaults(input io.Reader) error {
	s, err := p.Parse(input)
	if err != nil {
		return err
	}
	store = s
	return nil
}

func HasDefault(f *ini.Field) bool {
	return store != nil && f.Present(store)
}

func ApplyDefault(sp *string, f *ini.Field) bool {
	if *sp != "" || !HasDefault(f) {
		return false
	}
	*sp = os.ExpandEnv(f.StringVal(store))
	return true
}

// Numeric and boolean options have no "empty" value, so the caller says whether the option was
// set on the command line.

func ApplyUintDefault(ip *uint, given bool, f *ini.Field) bool {
	if given || !HasDefault(f) {
		return false
	}
	*ip = uint(f.Uint64Val(store))
	return true
}

func ApplyBoolDefault(bp *bool, given bool, f *ini.Field) bool {
	if given || !HasDefault(f) {
		return false
	}
	*bp = f.BoolVal(store)
	return true
}
