// The record catalog mirrors the archive directories in a table so that listings do not have to
// read directories.  The directories remain the truth: the catalog is updated after the file is
// written, and failures to update it are only logged.
//
// There is one entry per record file.  A running job has one record, a completed job one per
// completion, as a job id can finish, come back and finish again.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Fields in the order of the catalog table's columns.
type CatalogEntry struct {
	User                string
	JobId               string
	State               string
	Timestamp           string
	Path                string
	Samples             int
	SamplesWithWarnings int
}

type Catalog interface {
	Upsert(ctx context.Context, e CatalogEntry) error

	// Removes every entry for the job in the state.
	Delete(ctx context.Context, state, jobId string) error

	// Entries for the state and user, "" for any.  Sorted by user, job id and timestamp.
	List(ctx context.Context, state, user string) ([]CatalogEntry, error)
}

func catalogLess(a, b *CatalogEntry) bool {
	if a.User != b.User {
		return a.User < b.User
	}
	if a.JobId != b.JobId {
		return a.JobId < b.JobId
	}
	return a.Timestamp < b.Timestamp
}

// The timestamp that tells records of the same job apart, "" for the single running record.
func recordTimestamp(e *CatalogEntry) string {
	if e.State == RunningState {
		return ""
	}
	return e.Timestamp
}

// In-memory catalog, for tests and for runs without a database.

type MemCatalog struct {
	sync.Mutex
	entries map[string]CatalogEntry
}

var _ = Catalog((*MemCatalog)(nil))

func NewMemCatalog() *MemCatalog {
	return &MemCatalog{entries: make(map[string]CatalogEntry)}
}

func (c *MemCatalog) Upsert(_ context.Context, e CatalogEntry) error {
	c.Lock()
	defer c.Unlock()
	c.entries[e.State+"/"+e.JobId+"/"+recordTimestamp(&e)] = e
	return nil
}

func (c *MemCatalog) Delete(_ context.Context, state, jobId string) error {
	c.Lock()
	defer c.Unlock()
	for k, e := range c.entries {
		if e.State == state && e.JobId == jobId {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *MemCatalog) List(_ context.Context, state, user string) ([]CatalogEntry, error) {
	c.Lock()
	defer c.Unlock()
	result := make([]CatalogEntry, 0)
	for _, e := range c.entries {
		if (state == "" || e.State == state) && (user == "" || e.User == user) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return catalogLess(&result[i], &result[j])
	})
	return result, nil
}

// Catalog in PostgreSQL.  The connection is not thread-safe, so every use is under the lock.

type PgCatalog struct {
	connection *pgx.Conn
	lock       sync.Mutex
}

var _ = Catalog((*PgCatalog)(nil))

const createCatalogTable = `
CREATE TABLE IF NOT EXISTS job_records (
  user_name TEXT NOT NULL,
  job_id TEXT NOT NULL,
  state TEXT NOT NULL,
  last_ts TEXT NOT NULL,
  path TEXT NOT NULL,
  samples INTEGER NOT NULL,
  samples_with_warnings INTEGER NOT NULL,
  record_ts TEXT NOT NULL,
  PRIMARY KEY (state, job_id, record_ts)
)`

func OpenPgCatalog(ctx context.Context, databaseURI string) (*PgCatalog, error) {
	connection, err := pgx.Connect(ctx, databaseURI)
	if err != nil {
		return nil, fmt.Errorf("Unable to connect to database: %v", err)
	}
	if _, err := connection.Exec(ctx, createCatalogTable); err != nil {
		connection.Close(ctx)
		return nil, fmt.Errorf("Unable to create catalog table: %v", err)
	}
	return &PgCatalog{connection: connection}, nil
}

func (c *PgCatalog) Close(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connection.Close(ctx)
}

func (c *PgCatalog) Upsert(ctx context.Context, e CatalogEntry) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, err := c.connection.Exec(ctx, `
INSERT INTO job_records (user_name, job_id, state, last_ts, path, samples, samples_with_warnings, record_ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (state, job_id, record_ts) DO UPDATE SET
  user_name = EXCLUDED.user_name,
  last_ts = EXCLUDED.last_ts,
  path = EXCLUDED.path,
  samples = EXCLUDED.samples,
  samples_with_warnings = EXCLUDED.samples_with_warnings`,
		e.User, e.JobId, e.State, e.Timestamp, e.Path, e.Samples, e.SamplesWithWarnings, recordTimestamp(&e))
	return err
}

func (c *PgCatalog) Delete(ctx context.Context, state, jobId string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, err := c.connection.Exec(ctx, "DELETE FROM job_records WHERE state = $1 AND job_id = $2", state, jobId)
	return err
}

func (c *PgCatalog) List(ctx context.Context, state, user string) ([]CatalogEntry, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	// Columns in the order of CatalogEntry's fields, KEEP THESE IN SYNC.
	rows, err := c.connection.Query(ctx, `
SELECT user_name, job_id, state, last_ts, path, samples, samples_with_warnings
FROM job_records
WHERE ($1 = '' OR state = $1) AND ($2 = '' OR user_name = $2)
ORDER BY user_name, job_id, last_ts`, state, user)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[CatalogEntry])
}
