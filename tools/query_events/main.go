package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/config"
	"github.com/patrickwarner/adselection/internal/observability"
)

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var id, dsn, format string
	flag.StringVar(&id, "id", "", "request ID (the X-Request-ID of the ad request)")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN (defaults to CLICKHOUSE_DSN)")
	flag.StringVar(&format, "format", "table", "output format: table or json")
	flag.Parse()

	if id == "" {
		fmt.Fprintln(os.Stderr, "id required")
		os.Exit(2)
	}
	if dsn == "" {
		dsn = config.Load().ClickHouseDSN
	}

	a, err := analytics.InitClickHouse(dsn, 2, 1, time.Minute, time.Minute, observability.NewNoOpRegistry())
	if err != nil {
		logger.Fatal("connect clickhouse", zap.Error(err))
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	events, err := a.GetEventsByRequestID(ctx, id)
	if err != nil {
		logger.Fatal("query events", zap.String("request_id", id), zap.Error(err))
	}

	if err := write(os.Stdout, format, events); err != nil {
		logger.Fatal("write events", zap.Error(err))
	}
}

// write renders events in the requested format.
func write(w io.Writer, format string, events []analytics.EventRecord) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case "table":
		return writeTable(w, events)
	}
	return fmt.Errorf("unknown format %q", format)
}

// writeTable prints one row per event. Absent values print as "-".
func writeTable(w io.Writer, events []analytics.EventRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tMARKETPLACE\tCUSTOMER\tCONTENT\tDEVICE\tCOUNTRY\tKEY VALUES")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.UTC().Format(time.RFC3339),
			ev.EventType,
			orDash(ev.MarketplaceID),
			orDash(ev.CustomerID),
			orDash(deref(ev.ContentID)),
			orDash(deref(ev.DeviceType)),
			orDash(deref(ev.Country)),
			orDash(formatKeyValues(ev.KeyValues)),
		)
	}
	return tw.Flush()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatKeyValues renders kv as sorted k=v pairs.
func formatKeyValues(kv map[string]string) string {
	pairs := make([]string, 0, len(kv))
	for k, v := range kv {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
