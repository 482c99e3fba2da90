package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jobmonitor/daemon"
	"jobmonitor/store"
)

// Where the running records of a monitor can be had.
type Remote interface {
	// The last committed snapshot, store.ErrNoMarker while the monitor is sampling.
	Marker(ctx context.Context) (string, error)

	// Names of running records, without extension.
	Records(ctx context.Context) ([]string, error)

	// Copy the record to w; the result tells whether the copy is compressed.
	Copy(ctx context.Context, name string, w io.Writer) (compressed bool, err error)
}

// The monitor's running directory, on a shared file system.
type DirRemote struct {
	dir string
}

var _ = Remote((*DirRemote)(nil))

func NewDirRemote(dir string) *DirRemote {
	return &DirRemote{dir: dir}
}

func (d *DirRemote) Marker(_ context.Context) (string, error) {
	return store.ReadMarker(d.dir)
}

func (d *DirRemote) Records(_ context.Context) ([]string, error) {
	records, err := store.ListRecords(d.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names, nil
}

func (d *DirRemote) Copy(_ context.Context, name string, w io.Writer) (bool, error) {
	for _, compressed := range []bool{true, false} {
		fn := filepath.Join(d.dir, name+recordExt(compressed))
		f, err := os.Open(fn)
		if err != nil {
			continue
		}
		_, err = io.Copy(w, f)
		f.Close()
		return compressed, err
	}
	return false, fmt.Errorf("No record %s in %s", name, d.dir)
}

// The monitor's daemon.
type HTTPRemote struct {
	base       string
	user, pass string
	client     *http.Client
}

var _ = Remote((*HTTPRemote)(nil))

// user and pass may be empty, otherwise they are sent with basic authentication.
func NewHTTPRemote(base, user, pass string) *HTTPRemote {
	return &HTTPRemote{
		base:   strings.TrimSuffix(base, "/"),
		user:   user,
		pass:   pass,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

var errConflict = errors.New("Conflict")

func (h *HTTPRemote) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", h.base+path, nil)
	if err != nil {
		return nil, err
	}
	if h.user != "" {
		req.SetBasicAuth(h.user, h.pass)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusConflict {
			return nil, errConflict
		}
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return resp, nil
}

func (h *HTTPRemote) getJSON(ctx context.Context, path string, v any) error {
	resp, err := h.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func (h *HTTPRemote) Marker(ctx context.Context) (string, error) {
	var out struct {
		Timestamp string `json:"timestamp"`
	}
	if err := h.getJSON(ctx, "/timestamp", &out); err != nil {
		if errors.Is(err, errConflict) {
			return "", store.ErrNoMarker
		}
		return "", err
	}
	return out.Timestamp, nil
}

func (h *HTTPRemote) Records(ctx context.Context) ([]string, error) {
	var infos []daemon.RecordInfo
	if err := h.getJSON(ctx, "/records?state=running", &infos); err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, r := range infos {
		names[i] = r.Name
	}
	return names, nil
}

func (h *HTTPRemote) Copy(ctx context.Context, name string, w io.Writer) (bool, error) {
	resp, err := h.get(ctx, "/records/"+url.PathEscape(name)+"/raw")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return resp.Header.Get("Content-Type") == daemon.RawCompressedContentType, err
}
