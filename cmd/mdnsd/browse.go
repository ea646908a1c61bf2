package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joshuafuller/mdnsd/internal/config"
	"github.com/joshuafuller/mdnsd/querier"
	"github.com/joshuafuller/mdnsd/responder"
)

// serviceTypeName turns "_http._tcp", "http.tcp" or "_http._tcp.local."
// into the full browse name "_http._tcp.local".
func serviceTypeName(s string) (string, error) {
	s = strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(s), "."), ".local")
	parts := strings.Split(s, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("service type %q: want _service._proto", s)
	}
	for i, p := range parts {
		if !strings.HasPrefix(p, "_") {
			parts[i] = "_" + p
		}
	}
	return parts[0] + "." + parts[1] + ".local", nil
}

// runBrowse queries for serviceType and prints one line per record.
func runBrowse(ctx context.Context, cfg *config.Config, serviceType string, timeout time.Duration, w io.Writer) error {
	name, err := serviceTypeName(serviceType)
	if err != nil {
		return err
	}
	q, err := querier.New(
		querier.WithTimeout(timeout),
		querier.WithInterfaces(cfg.Interfaces...),
		querier.WithResponderOptions(responder.WithIPVersions(cfg.IPv4, cfg.IPv6)),
	)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	resp, err := q.Query(ctx, name, querier.RecordTypePTR)
	if err != nil {
		return err
	}
	return printRecords(w, resp.Records)
}

func printRecords(w io.Writer, records []querier.ResourceRecord) error {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].Type < records[j].Type
	})
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tNAME\tDATA\tIF")
	for i := range records {
		rr := &records[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", rr.Type, rr.Name, formatData(rr), rr.Interface)
	}
	return tw.Flush()
}

func formatData(rr *querier.ResourceRecord) string {
	switch rr.Type {
	case querier.RecordTypeSRV:
		if srv := rr.AsSRV(); srv != nil {
			return fmt.Sprintf("%s:%d", srv.Target, srv.Port)
		}
	case querier.RecordTypeTXT:
		return strings.Join(rr.AsTXT(), " ")
	}
	return fmt.Sprint(rr.Data)
}
