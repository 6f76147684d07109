// Command swapdoctor lists persisted swaps and their derived state for
// operator inspection. It opens the configured storage read-only and
// never mutates a record; use the server's HTTP API or watchdogs for
// any state transition.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/atomicbridge/swapserver/internal/config"
	"github.com/atomicbridge/swapserver/internal/handlers/frombtc"
	"github.com/atomicbridge/swapserver/internal/handlers/frombtcln"
	"github.com/atomicbridge/swapserver/internal/handlers/tobtc"
	"github.com/atomicbridge/swapserver/internal/handlers/tobtcln"
	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/storage"
	"github.com/atomicbridge/swapserver/internal/storage/sqlitestore"
)

func main() {
	dbPath := flag.String("db", "", "path to the swap storage database (defaults to SWAPSERVER_DB_PATH or ./data/swaps.sqlite)")
	kind := flag.String("kind", "", "restrict the listing to one handler kind: tobtc, frombtc, tobtcln, frombtcln")
	flag.Parse()

	if err := run(*dbPath, *kind); err != nil {
		fmt.Fprintln(os.Stderr, "swapdoctor:", err)
		os.Exit(1)
	}
}

func run(dbPath, kindFilter string) error {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dbPath = cfg.DBPath
	}

	store, err := sqlitestore.Open(dbPath, config.DBBusyTimeout)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", dbPath, err)
	}
	defer store.Close()

	kinds := []string{tobtc.Kind, frombtc.Kind, tobtcln.Kind, frombtcln.Kind}
	if kindFilter != "" {
		kinds = []string{kindFilter}
	}

	ctx := context.Background()
	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tIDENTITY\tSTATE\tCHAIN\tTXIDS")

	total := 0
	for _, k := range kinds {
		recs, err := store.LoadAll(ctx, k)
		if err != nil {
			return fmt.Errorf("load %s swaps: %w", k, err)
		}
		rows, err := describe(k, recs)
		if err != nil {
			return fmt.Errorf("describe %s swaps: %w", k, err)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].identity < rows[j].identity })
		for _, row := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k, row.identity, row.state, row.chain, row.txids)
		}
		total += len(rows)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Printf("\n%d swap(s)\n", total)
	return nil
}

type swapRow struct {
	identity string
	state    string
	chain    string
	txids    string
}

// describe decodes each record's opaque payload into its handler-specific
// type and extracts the fields worth surfacing to an operator.
func describe(kind string, recs []storage.Record) ([]swapRow, error) {
	rows := make([]swapRow, 0, len(recs))
	for _, rec := range recs {
		row := swapRow{identity: rec.Identity.String(), chain: string(rec.Identity.ChainIdentifier)}
		switch kind {
		case tobtc.Kind:
			var s models.ToBtcSwap
			if err := json.Unmarshal(rec.Payload, &s); err != nil {
				return nil, err
			}
			row.state = s.State.String()
			row.txids = formatTxIds(s.TxIds)
		case frombtc.Kind:
			var s models.FromBtcSwap
			if err := json.Unmarshal(rec.Payload, &s); err != nil {
				return nil, err
			}
			row.state = s.State.String()
			row.txids = formatTxIds(s.TxIds)
		case tobtcln.Kind:
			var s models.ToBtcLnSwap
			if err := json.Unmarshal(rec.Payload, &s); err != nil {
				return nil, err
			}
			row.state = s.State.String()
			row.txids = formatTxIds(s.TxIds)
		case frombtcln.Kind:
			var s models.FromBtcLnSwap
			if err := json.Unmarshal(rec.Payload, &s); err != nil {
				return nil, err
			}
			row.state = s.State.String()
			row.txids = formatTxIds(s.TxIds)
		default:
			row.state = "unknown"
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatTxIds(t models.TxIds) string {
	b, err := json.Marshal(t)
	if err != nil || string(b) == "{}" {
		return "-"
	}
	return string(b)
}
