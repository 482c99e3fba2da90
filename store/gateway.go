// The record archive.  Jobs are serialized with CBOR, optionally gzipped, one file per job.  Files
// are written to a temporary in the same directory and renamed into place, so a reader never sees
// a partial record.

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"

	. "jobmonitor/common"
	"jobmonitor/sampler"
)

// The name of the directory for running jobs.  Records there carry no timestamp in their name, so
// that each running job has exactly one record that is overwritten as the job progresses.
const RunningState = "running"

type Gateway struct {
	// Relative directories passed to the Archive methods are relative to this
	root     string
	compress bool

	// May be nil
	catalog Catalog
}

var _ = sampler.Archive((*Gateway)(nil))

func NewGateway(root string, compress bool) *Gateway {
	return &Gateway{root: root, compress: compress}
}

func (g *Gateway) SetCatalog(c Catalog) {
	g.catalog = c
}

func (g *Gateway) Root() string {
	return g.root
}

func (g *Gateway) Dir(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(g.root, dir)
}

func (g *Gateway) recordPath(job *sampler.Job, dir string) string {
	return filepath.Join(g.Dir(dir), g.recordBase(job, dir))
}

func (g *Gateway) recordBase(job *sampler.Job, dir string) string {
	ts := ""
	if filepath.Base(dir) != RunningState {
		if js := job.LastSample(); js != nil {
			ts = js.Timestamp
		}
	}
	return recordBase(job.User, job.Id, ts)
}

func (g *Gateway) Persist(job *sampler.Job, dir string, onlyIfWarnings bool) error {
	if onlyIfWarnings && job.SamplesWithWarnings == 0 {
		return nil
	}
	d := g.Dir(dir)
	if err := os.MkdirAll(d, 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, job, g.compress); err != nil {
		return fmt.Errorf("Encoding job %s: %w", job.Id, err)
	}
	base := g.recordPath(job, dir)
	name := base + plainExt
	stale := base + compressedExt
	if g.compress {
		name, stale = stale, name
	}
	if err := writeAtomically(name, buf.Bytes()); err != nil {
		return err
	}
	// A record from a run with the other compression setting would shadow or duplicate this one.
	removeIfPresent(stale)

	if g.catalog != nil {
		js := job.LastSample()
		entry := CatalogEntry{
			User:                job.User,
			JobId:               job.Id,
			State:               filepath.Base(dir),
			Path:                name,
			Samples:             len(job.Samples),
			SamplesWithWarnings: job.SamplesWithWarnings,
		}
		if js != nil {
			entry.Timestamp = js.Timestamp
		}
		if err := g.catalog.Upsert(context.Background(), entry); err != nil {
			Log.Warningf("Catalog update for job %s: %v", job.Id, err)
		}
	}
	return nil
}

func (g *Gateway) Remove(job *sampler.Job, dir string) error {
	base := g.recordPath(job, dir)
	for _, ext := range []string{plainExt, compressedExt} {
		if err := os.Remove(base + ext); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if g.catalog != nil {
		if err := g.catalog.Delete(context.Background(), filepath.Base(dir), job.Id); err != nil {
			Log.Warningf("Catalog delete for job %s: %v", job.Id, err)
		}
	}
	return nil
}

func (g *Gateway) ClearMarker(dir string) error {
	return ClearMarker(g.Dir(dir))
}

func (g *Gateway) WriteMarker(dir, timestamp string) error {
	d := g.Dir(dir)
	if err := os.MkdirAll(d, 0755); err != nil {
		return err
	}
	return WriteMarker(d, timestamp)
}

// Write the job to w as CBOR, gzipped if compress is set.
func Encode(w io.Writer, job *sampler.Job, compress bool) error {
	bs, err := cbor.Marshal(job)
	if err != nil {
		return err
	}
	if !compress {
		_, err = w.Write(bs)
		return err
	}
	zw := gzip.NewWriter(w)
	if _, err := zw.Write(bs); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Read a job written by Encode.  The job is not attached to any sampler.
func Decode(r io.Reader, compressed bool) (*sampler.Job, error) {
	if compressed {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	bs, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	job := new(sampler.Job)
	if err := cbor.Unmarshal(bs, job); err != nil {
		return nil, err
	}
	if job.Id == "" {
		return nil, errors.New("Record has no job id")
	}
	job.Attach(nil)
	return job, nil
}

// Load the record at path and attach it to s (which may be nil).  The path may name the file
// exactly or leave out the extension, in which case the compressed record is preferred.  Returns
// nil if there is no such record or it cannot be decoded; the caller decides whether that matters.
func Load(path string, s *sampler.Sampler) *sampler.Job {
	candidates := []string{path}
	if _, _, hasExt := stripExt(path); !hasExt {
		candidates = []string{path + compressedExt, path + plainExt}
	}
	for _, fn := range candidates {
		f, err := os.Open(fn)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				Log.Infof("Opening %s: %v", fn, err)
				return nil
			}
			continue
		}
		job, err := Decode(f, strings.HasSuffix(fn, compressedExt))
		f.Close()
		if err != nil {
			Log.Infof("Decoding %s: %v", fn, err)
			return nil
		}
		job.Attach(s)
		return job
	}
	Log.Infof("No record at %s", path)
	return nil
}

func writeAtomically(filename string, contents []byte) error {
	f, err := os.CreateTemp(filepath.Dir(filename), ".jobmonitor-tmp")
	if err != nil {
		return err
	}
	tempname := f.Name()
	_, err = f.Write(contents)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tempname, filename)
	}
	if err != nil {
		os.Remove(tempname)
	}
	return err
}

func removeIfPresent(filename string) {
	if err := os.Remove(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		Log.Warningf("Removing %s: %v", filename, err)
	}
}
