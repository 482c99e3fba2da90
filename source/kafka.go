package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/NordicHPC/sonar/util/formats/newfmt"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	. "jobmonitor/common"
	"jobmonitor/sampler"
)

type KafkaOptions struct {
	Broker       string
	Cluster      string
	SaslUser     string
	SaslPassword string

	// PEM file, TLS is used if set
	CaFile string
}

// Jobs and cluster data consumed from the cluster's topics on a Kafka broker.  Run the consumer
// with Run; FetchSnapshot returns the latest jobs data received.
type Kafka struct {
	cluster string
	client  *kgo.Client
	slurm   *Slurm

	// Signalled when the first jobs data have arrived
	started   chan struct{}
	startOnce sync.Once

	disp map[string]func(data []byte) error
}

var _ = sampler.SnapshotSource((*Kafka)(nil))

func NewKafka(opts KafkaOptions, slurm *Slurm) (*Kafka, error) {
	if opts.Broker == "" || opts.Cluster == "" {
		return nil, errors.New("Kafka needs a broker and a cluster")
	}
	k := &Kafka{
		cluster: opts.Cluster,
		slurm:   slurm,
		started: make(chan struct{}),
		disp:    make(map[string]func(data []byte) error),
	}
	jobsTopic := opts.Cluster + "." + string(newfmt.DataTagJobs)
	clusterTopic := opts.Cluster + "." + string(newfmt.DataTagCluster)
	k.disp[jobsTopic] = k.handleJobs
	k.disp[clusterTopic] = func(data []byte) error {
		return k.slurm.ConsumeCluster(bytes.NewReader(data))
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(opts.Broker),
		kgo.ConsumerGroup("jobmonitor-" + opts.Cluster),
		kgo.ConsumeTopics(jobsTopic, clusterTopic),
	}
	if opts.SaslUser != "" || opts.SaslPassword != "" {
		kopts = append(kopts, kgo.SASL(plain.Auth{
			User: opts.SaslUser,
			Pass: opts.SaslPassword,
		}.AsMechanism()))
	}
	if opts.CaFile != "" {
		caCert, err := os.ReadFile(opts.CaFile)
		if err != nil {
			return nil, err
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("No certificates in %s", opts.CaFile)
		}
		kopts = append(kopts, kgo.DialTLSConfig(&tls.Config{RootCAs: caCertPool}))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("Failed to create Kafka client: %w", err)
	}
	k.client = cl
	return k, nil
}

func (k *Kafka) handleJobs(data []byte) error {
	if err := k.slurm.ConsumeJobs(bytes.NewReader(data)); err != nil {
		return err
	}
	if _, err := k.slurm.Snapshot(); err == nil {
		k.startOnce.Do(func() { close(k.started) })
	}
	return nil
}

// Consume until ctx is cancelled, then close the client.
func (k *Kafka) Run(ctx context.Context) {
	defer k.client.Close()
	for {
		fetches := k.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			// Retriable errors are retried internally, these need attention but are not fatal.
			Log.Warningf("%s: Failed to fetch data: %v", k.cluster, errs)
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			handler, found := k.disp[record.Topic]
			if !found {
				Log.Warningf("%s: No handler for topic %s", k.cluster, record.Topic)
				continue
			}
			if err := handler(record.Value); err != nil {
				Log.Warningf("%s: Topic handler %s failed: %v", k.cluster, record.Topic, err)
			}
		}
		if err := k.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			Log.Warningf("%s: Commit failed: %v", k.cluster, err)
		}
	}
}

// Wait for the first jobs data if none have arrived yet, then return the latest.
func (k *Kafka) FetchSnapshot(ctx context.Context) (*sampler.Snapshot, error) {
	select {
	case <-k.started:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return k.slurm.Snapshot()
}
