package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	. "jobmonitor/common"
	"jobmonitor/store"
)

type OverviewCommand struct {
	VerboseArgs
	DataDirArgs
	DatabaseArgs

	since   string
	sortBy  string
	reverse bool
	useDB   bool
}

func (oc *OverviewCommand) groups() []argGroup {
	return []argGroup{&oc.VerboseArgs, &oc.DataDirArgs, &oc.DatabaseArgs}
}

func (oc *OverviewCommand) Summary() string {
	return "List the completed and running records and tell whether the monitor is sampling"
}

func (oc *OverviewCommand) Add(fs *flag.FlagSet) {
	addGroups(fs, oc.groups()...)
	fs.StringVar(&oc.since, "since", "", "Only completed records sampled at or after `timestamp` (yyyy.mm.dd.HHhMMmSS)")
	fs.StringVar(&oc.sortBy, "sort", "user", "Sort records by `key`, one of user, job, time")
	fs.BoolVar(&oc.reverse, "reverse", false, "Reverse the sort order")
	fs.BoolVar(&oc.useDB, "db", false, "List records from the record catalog instead of the directories")
}

func (oc *OverviewCommand) ApplyDefaults(given map[string]bool) {
	applyGroupDefaults(given, oc.groups()...)
}

func (oc *OverviewCommand) Validate() error {
	var e1, e2, e3, e4 error
	e1 = validateGroups(oc.groups()...)
	if oc.since != "" {
		if _, err := ParseTimestamp(oc.since); err != nil {
			e2 = fmt.Errorf("Bad -since: %w", err)
		}
	}
	if !slices.Contains([]string{"user", "job", "time"}, oc.sortBy) {
		e3 = fmt.Errorf("Bad -sort key %s", oc.sortBy)
	}
	if oc.useDB && oc.DatabaseURI == "" {
		e4 = errors.New("-db requires -database or a database uri in ~/.jobmonitor")
	}
	return errors.Join(e1, e2, e3, e4)
}

func (oc *OverviewCommand) Perform(ctx context.Context, out io.Writer) error {
	g := store.NewGateway(oc.DataDir, false)
	var catalog store.Catalog
	if oc.useDB {
		pg, err := store.OpenPgCatalog(ctx, oc.DatabaseURI)
		if err != nil {
			return err
		}
		defer pg.Close(context.Background())
		catalog = pg
	}
	st, err := collectStatus(ctx, g, catalog, oc.since)
	if err != nil {
		return err
	}
	sortEntries(st.completed, oc.sortBy, oc.reverse)
	sortEntries(st.running, oc.sortBy, oc.reverse)
	_, err = io.WriteString(out, st.String())
	return err
}

type monitorStatus struct {
	// Empty while sampling
	marker    string
	completed []store.CatalogEntry
	running   []store.CatalogEntry
}

func collectStatus(ctx context.Context, g *store.Gateway, catalog store.Catalog, since string) (*monitorStatus, error) {
	st := new(monitorStatus)
	marker, err := store.ReadMarker(g.Dir("running"))
	if err != nil && !errors.Is(err, store.ErrNoMarker) {
		return nil, err
	}
	st.marker = marker
	completed, err := listState(ctx, g, catalog, "completed")
	if err != nil {
		return nil, err
	}
	for _, e := range completed {
		if since == "" || e.Timestamp >= since {
			st.completed = append(st.completed, e)
		}
	}
	st.running, err = listState(ctx, g, catalog, "running")
	if err != nil {
		return nil, err
	}
	return st, nil
}

func listState(ctx context.Context, g *store.Gateway, catalog store.Catalog, state string) ([]store.CatalogEntry, error) {
	if catalog != nil {
		return catalog.List(ctx, state, "")
	}
	records, err := store.ListRecords(g.Dir(state))
	if err != nil {
		return nil, err
	}
	entries := make([]store.CatalogEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, store.CatalogEntry{
			User:      r.User,
			JobId:     r.JobId,
			State:     state,
			Timestamp: r.Timestamp,
			Path:      r.Path,
		})
	}
	return entries, nil
}

// Job ids are compared numerically when both are numbers.
func compareJobIds(a, b string) int {
	x, errx := strconv.ParseUint(a, 10, 64)
	y, erry := strconv.ParseUint(b, 10, 64)
	if errx == nil && erry == nil {
		return cmp.Compare(x, y)
	}
	return strings.Compare(a, b)
}

func sortEntries(entries []store.CatalogEntry, by string, reverse bool) {
	slices.SortStableFunc(entries, func(a, b store.CatalogEntry) int {
		var c int
		switch by {
		case "job":
			c = cmp.Or(compareJobIds(a.JobId, b.JobId), strings.Compare(a.User, b.User))
		case "time":
			c = cmp.Or(strings.Compare(a.Timestamp, b.Timestamp), strings.Compare(a.User, b.User),
				compareJobIds(a.JobId, b.JobId))
		default:
			c = cmp.Or(strings.Compare(a.User, b.User), compareJobIds(a.JobId, b.JobId))
		}
		if reverse {
			return -c
		}
		return c
	})
}

func (st *monitorStatus) String() string {
	var b strings.Builder
	if st.marker != "" {
		fmt.Fprintf(&b, "Monitor is idle, last snapshot %s\n", st.marker)
	} else {
		b.WriteString("Monitor is sampling, or has never run\n")
	}
	for _, section := range []struct {
		title   string
		entries []store.CatalogEntry
	}{
		{"Completed", st.completed},
		{"Running", st.running},
	} {
		fmt.Fprintf(&b, "%s: %d\n", section.title, len(section.entries))
		for _, e := range section.entries {
			ts := e.Timestamp
			if ts == "" {
				ts = "-"
			}
			line := fmt.Sprintf("  %-12s %-14s %s", e.User, e.JobId, ts)
			if e.Samples > 0 {
				line += fmt.Sprintf("  %d/%d samples with warnings", e.SamplesWithWarnings, e.Samples)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
