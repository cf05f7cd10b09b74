package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/valvectl/internal/valve"
	"github.com/srg/valvectl/scanner"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for valves",
	Long: `Scan for thermostatic radiator valves in the vicinity and list them.

With --connect every valve found is connected in turn to read its serial
number and name; scanning pauses while a connection is in progress.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanConnect   bool
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_duration from the configuration)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanConnect, "connect", "c", false, "Connect to each valve to read its serial number and name")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show valves with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide valves with these addresses")
}

// scanEntry is one row of the scan result.
type scanEntry struct {
	Address string `json:"address"`
	Serial  string `json:"serial,omitempty"`
	Name    string `json:"name,omitempty"`
}

// scanResults collects entries from scanner handlers in discovery order.
type scanResults struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, *scanEntry]
}

func newScanResults() *scanResults {
	return &scanResults{entries: orderedmap.New[string, *scanEntry]()}
}

func (r *scanResults) add(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries.Get(address); !ok {
		r.entries.Set(address, &scanEntry{Address: address})
	}
}

func (r *scanResults) update(address, serial, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries.Get(address)
	if !ok {
		e = &scanEntry{Address: address}
		r.entries.Set(address, e)
	}
	e.Serial, e.Name = serial, name
}

func (r *scanResults) list() []scanEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]scanEntry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

func runScan(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := env.cfg.ScanDuration
	if scanDuration > 0 {
		duration = scanDuration
	}
	env.cfg.AutoConnect = scanConnect

	s, err := env.newScanner(&scanner.ScanOptions{AllowList: scanAllowList, BlockList: scanBlockList})
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, duration)
	defer timeoutCancel()

	results := newScanResults()
	s.OnDiscovered(func(session *valve.Session) {
		results.add(session.Address())
	})
	s.OnConnected(func(session *valve.Session) {
		logger := env.logger.WithField("address", session.Address())
		name, err := session.GetName(ctx)
		if err != nil {
			logger.WithField("error", err).Warn("Failed to read valve name")
		}
		results.update(session.Address(), session.SerialNumber(), name)
		if err := session.Disconnect(); err != nil {
			logger.WithField("error", err).Warn("Failed to disconnect valve")
		}
	})

	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	if err := s.Dispose(); err != nil {
		env.logger.WithField("error", err).Warn("Failed to release valves")
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}

	entries := results.list()
	if scanFormat == "json" {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	return displayValvesTable(cmd.OutOrStdout(), entries, scanConnect)
}

func displayValvesTable(out io.Writer, entries []scanEntry, connected bool) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No valves discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if connected {
		fmt.Fprintln(w, "ADDRESS\tSERIAL\tNAME")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Address, orDash(e.Serial), orDash(e.Name))
		}
	} else {
		fmt.Fprintln(w, "ADDRESS")
		fmt.Fprintln(w, strings.Repeat("-", 20))
		for _, e := range entries {
			fmt.Fprintln(w, e.Address)
		}
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
