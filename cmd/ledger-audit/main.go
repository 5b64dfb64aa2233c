// ledger-audit recomputes every cached total in the ledger from its source
// rows and prints whatever disagrees. Nothing is written.
//
// Exit status: 0 clean, 1 the audit could not run, 2 discrepancies found.
//
// Example:
//
//	go run ./cmd/ledger-audit/ -db-driver=mysql -db="mill:secret@tcp(localhost:3306)/mill"
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ricemill/stock-ledger/config"
	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/logging"
	"github.com/ricemill/stock-ledger/store/sqlstore"
)

const (
	exitClean = 0
	exitError = 1
	exitDrift = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load("ledger-audit", args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = stderr
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	storeCfg := cfg.StoreConfig()
	storeCfg.Logger = log
	store, err := sqlstore.Open(ctx, storeCfg)
	if err != nil {
		logging.LogError(log, "ledger-audit", "run", "open store", cfg.Database.Driver, err)
		return exitError
	}
	defer store.Close()

	opts := cfg.EngineOptions()
	opts.Logger = log
	report, err := ledger.NewEngine(store, opts).Audit(ctx)
	if err != nil {
		logging.LogError(log, "ledger-audit", "run", "audit", nil, err)
		return exitError
	}

	printReport(stdout, report)
	if !report.Clean() {
		return exitDrift
	}
	return exitClean
}

func printReport(w io.Writer, r *ledger.AuditReport) {
	fmt.Fprintf(w, "checked_at=%s varieties=%d adjustments=%d counterparties=%d invoices=%d payments=%d\n",
		r.CheckedAt.Format(time.RFC3339), r.Varieties, r.Adjustments, r.Counterparties, r.Invoices, r.Payments)
	if r.Clean() {
		fmt.Fprintln(w, "no discrepancies")
		return
	}

	fmt.Fprintf(w, "%d discrepancies\n", len(r.Discrepancies))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tENTITY\tFIELD\tEXPECTED\tACTUAL")
	for _, d := range r.Discrepancies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Kind, d.EntityID, d.Field, d.Expected, d.Actual)
	}
	tw.Flush()
}
