// The capacity table describes the nodes of one cluster: how many cores and how much memory each
// node has.  It is read from a JSON array of node records, where the host name may be a node list
// pattern that expands to several nodes:
//
//   [{"hostname": "r1c[01-16]cn[01-04]", "cpu_cores": 20, "mem_gb": 64},
//    {"hostname": "r5c01cn01", "cpu_cores": 28, "mem_gb": 256, "description": "bigmem"}]
//
// Lookups use the short host name.

package capacity

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"jobmonitor/nodelist"
)

type NodeRecord struct {
	// Name or pattern that host is known by on the cluster
	Hostname string `json:"hostname"`

	// End-user description, not parseable
	Description string `json:"description,omitempty"`

	// Total number of cores x threads
	CpuCores int `json:"cpu_cores"`

	// GB of installed main RAM
	MemGB int `json:"mem_gb"`
}

type Table struct {
	Cluster string
	nodes   map[string]*NodeRecord
}

func NewTable(cluster string) *Table {
	return &Table{Cluster: cluster, nodes: make(map[string]*NodeRecord)}
}

func (t *Table) Insert(r *NodeRecord) {
	t.nodes[nodelist.Short(r.Hostname)] = r
}

// Returns nil if not found.
func (t *Table) LookupHost(hostname string) *NodeRecord {
	if t == nil {
		return nil
	}
	return t.nodes[nodelist.Short(hostname)]
}

func (t *Table) Size() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Memory available to a job on these nodes, in GB.  Unknown nodes contribute nothing.
func (t *Table) MemAvailableGB(nodes []string) float64 {
	var sum float64
	for _, n := range nodes {
		if r := t.LookupHost(n); r != nil {
			sum += float64(r.MemGB)
		}
	}
	return sum
}

// Cores on the node, zero if unknown.
func (t *Table) CoresOnNode(hostname string) int {
	if r := t.LookupHost(hostname); r != nil {
		return r.CpuCores
	}
	return 0
}

// Host names in sorted order.
func (t *Table) Hosts() []string {
	if t == nil {
		return nil
	}
	hosts := make([]string, 0, len(t.nodes))
	for h := range t.nodes {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func ReadTable(cluster, filename string) (*Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadTableFrom(cluster, f)
}

func ReadTableFrom(cluster string, input io.Reader) (*Table, error) {
	var records []*NodeRecord
	bytes, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bytes, &records); err != nil {
		return nil, fmt.Errorf("While unmarshaling capacity data: %w", err)
	}

	t := NewTable(cluster)
	for _, r := range records {
		if r.CpuCores == 0 || r.MemGB == 0 {
			return nil, fmt.Errorf("Nonsensical CPU/memory information for %s", r.Hostname)
		}
		names, err := nodelist.Expand(r.Hostname)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if t.LookupHost(name) != nil {
				return nil, fmt.Errorf("Duplicate host name in capacity table: %s", name)
			}
			d := *r
			d.Hostname = name
			t.Insert(&d)
		}
	}
	return t, nil
}
