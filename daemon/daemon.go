// Read-only HTTP API over the record archive, for viewers and for fetching records from another
// host.
//
//   GET /timestamp               the last committed snapshot; 409 while a snapshot is in progress
//   GET /records?state=&user=    record listing
//   GET /records/{name}          summary and history of one record
//   GET /records/{name}/raw      the stored record
//   GET /metrics                 Prometheus metrics
//
// Decoded records are cached by path and modification time, so a rewritten record is decoded
// again and the old entry ages out.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/karlseguin/ccache"

	"jobmonitor/auth"
	. "jobmonitor/common"
	"jobmonitor/sampler"
	"jobmonitor/store"
)

const (
	cacheTTL  = 10 * time.Minute
	authRealm = "jobmonitor"

	RawContentType           = "application/cbor"
	RawCompressedContentType = "application/gzip"
)

type Options struct {
	Version string

	// Directories relative to the gateway's root, as for the sampler
	RunningDir   string
	CompletedDir string

	// Any of these may be nil
	Catalog       store.Catalog
	Authenticator *auth.Authenticator
	Metrics       http.Handler
}

type Server struct {
	gateway *store.Gateway
	opts    Options
	cache   *ccache.Cache
	mux     *http.ServeMux
}

// What is cached for a record: everything is rendered when the record is loaded, so cached values
// are immutable.
type recordView struct {
	Summary sampler.Summary
	History string
}

func New(gateway *store.Gateway, opts Options) *Server {
	s := &Server{
		gateway: gateway,
		opts:    opts,
		cache:   ccache.New(ccache.Configure().MaxSize(1000).ItemsToPrune(100)),
		mux:     http.NewServeMux(),
	}
	api := humago.New(s.mux, huma.DefaultConfig("Job monitor", opts.Version))
	huma.Get(api, "/timestamp", s.getTimestamp)
	huma.Get(api, "/records", s.getRecords)
	huma.Get(api, "/records/{name}", s.getRecord)
	huma.Get(api, "/records/{name}/raw", s.getRaw)
	if opts.Metrics != nil {
		s.mux.Handle("/metrics", opts.Metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Authenticate(w, r, s.opts.Authenticator, authRealm) {
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

// If the authenticator is nil then requests must not carry credentials, otherwise they must carry
// valid ones.  On failure a 401 is sent and false is returned.
func Authenticate(w http.ResponseWriter, r *http.Request, authenticator *auth.Authenticator, realm string) bool {
	user, pass, ok := r.BasicAuth()
	passed := !ok && authenticator == nil || ok && authenticator != nil && authenticator.Authenticate(user, pass)
	if !passed {
		if authenticator != nil {
			w.Header().Add("WWW-Authenticate", "Basic realm=\""+realm+"\", charset=\"utf-8\"")
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, "Unauthorized")
		Log.Warning("Authorization failed")
		return false
	}
	return true
}

type TimestampOutput struct {
	Body struct {
		Timestamp string `json:"timestamp" doc:"Last committed snapshot"`
	}
}

func (s *Server) getTimestamp(ctx context.Context, _ *struct{}) (*TimestampOutput, error) {
	ts, err := store.ReadMarker(s.gateway.Dir(s.opts.RunningDir))
	if err != nil {
		if errors.Is(err, store.ErrNoMarker) {
			return nil, huma.Error409Conflict("Sampling in progress")
		}
		return nil, huma.Error500InternalServerError("Reading marker", err)
	}
	out := &TimestampOutput{}
	out.Body.Timestamp = ts
	return out, nil
}

type RecordInfo struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	User      string `json:"user"`
	JobId     string `json:"job_id"`
	Timestamp string `json:"timestamp,omitempty"`
}

type RecordsInput struct {
	State string `query:"state" doc:"running or completed, default both"`
	User  string `query:"user" doc:"Only records for this user"`
}

type RecordsOutput struct {
	Body []RecordInfo
}

func (s *Server) states(state string) ([]string, error) {
	switch state {
	case "":
		return []string{s.opts.RunningDir, s.opts.CompletedDir}, nil
	case filepath.Base(s.opts.RunningDir):
		return []string{s.opts.RunningDir}, nil
	case filepath.Base(s.opts.CompletedDir):
		return []string{s.opts.CompletedDir}, nil
	}
	return nil, huma.Error400BadRequest("Bad state " + state)
}

func (s *Server) getRecords(ctx context.Context, in *RecordsInput) (*RecordsOutput, error) {
	dirs, err := s.states(in.State)
	if err != nil {
		return nil, err
	}
	out := &RecordsOutput{Body: make([]RecordInfo, 0)}
	if s.opts.Catalog != nil {
		for _, dir := range dirs {
			entries, err := s.opts.Catalog.List(ctx, filepath.Base(dir), in.User)
			if err != nil {
				return nil, huma.Error500InternalServerError("Catalog", err)
			}
			for _, e := range entries {
				rn, _ := store.ParseRecordName(e.Path)
				out.Body = append(out.Body, RecordInfo{
					Name:      rn.Name,
					State:     e.State,
					User:      e.User,
					JobId:     e.JobId,
					Timestamp: e.Timestamp,
				})
			}
		}
		return out, nil
	}
	for _, dir := range dirs {
		records, err := store.ListRecords(s.gateway.Dir(dir))
		if err != nil {
			return nil, huma.Error500InternalServerError("Listing records", err)
		}
		for _, r := range records {
			if in.User != "" && r.User != in.User {
				continue
			}
			out.Body = append(out.Body, RecordInfo{
				Name:      r.Name,
				State:     filepath.Base(dir),
				User:      r.User,
				JobId:     r.JobId,
				Timestamp: r.Timestamp,
			})
		}
	}
	return out, nil
}

type RecordInput struct {
	Name string `path:"name" doc:"Record name, without extension"`
}

type RecordOutput struct {
	Body struct {
		Summary sampler.Summary `json:"summary"`
		History string          `json:"history"`
	}
}

// The file for the record name, looking among running records first.
func (s *Server) locate(name string) (string, fs.FileInfo, error) {
	if strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return "", nil, huma.Error400BadRequest("Bad record name")
	}
	if _, ok := store.ParseRecordName(name); !ok {
		return "", nil, huma.Error400BadRequest("Bad record name")
	}
	for _, dir := range []string{s.opts.RunningDir, s.opts.CompletedDir} {
		for _, ext := range []string{".cbor.gz", ".cbor"} {
			fn := filepath.Join(s.gateway.Dir(dir), name+ext)
			if info, err := os.Stat(fn); err == nil {
				return fn, info, nil
			}
		}
	}
	return "", nil, huma.Error404NotFound("No record " + name)
}

func (s *Server) getRecord(ctx context.Context, in *RecordInput) (*RecordOutput, error) {
	fn, info, err := s.locate(in.Name)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s@%d", fn, info.ModTime().UnixNano())
	var view *recordView
	if item := s.cache.Get(key); item != nil && !item.Expired() {
		view = item.Value().(*recordView)
	} else {
		job := store.Load(fn, nil)
		if job == nil {
			return nil, huma.Error500InternalServerError("Could not decode " + in.Name)
		}
		view = &recordView{Summary: job.Summary(), History: job.History()}
		s.cache.Set(key, view, cacheTTL)
	}
	out := &RecordOutput{}
	out.Body.Summary = view.Summary
	out.Body.History = view.History
	return out, nil
}

type RawOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// The record as stored.  The content type tells whether it is compressed.
func (s *Server) getRaw(ctx context.Context, in *RecordInput) (*RawOutput, error) {
	fn, _, err := s.locate(in.Name)
	if err != nil {
		return nil, err
	}
	bs, err := os.ReadFile(fn)
	if err != nil {
		return nil, huma.Error500InternalServerError("Reading "+in.Name, err)
	}
	out := &RawOutput{ContentType: RawContentType, Body: bs}
	if strings.HasSuffix(fn, ".gz") {
		out.ContentType = RawCompressedContentType
	}
	return out, nil
}
