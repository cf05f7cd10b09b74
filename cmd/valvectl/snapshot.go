package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/valvectl/internal/protocol"
	"github.com/srg/valvectl/internal/valve"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Dump the whole valve state buffer",
	Long: fmt.Sprintf(`Reads the %d-byte state buffer in %d-byte chunks and prints every
decoded field, optionally with a hex dump of the raw bytes.

Examples:
  valvectl snapshot --raw
  valvectl snapshot --format json`, protocol.StateLength, protocol.MaxStateReadChunk),
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

var (
	snapshotFormat string
	snapshotRaw    bool
)

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotFormat, "format", "f", "table", "Output format (table, json)")
	snapshotCmd.Flags().BoolVar(&snapshotRaw, "raw", false, "Include a hex dump of the state buffer")
}

type snapshotOutput struct {
	Address string                              `json:"address"`
	Raw     string                              `json:"raw,omitempty"`
	Fields  *orderedmap.OrderedMap[string, any] `json:"fields"`
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(snapshotFormat); err != nil {
		return err
	}

	return withValve(cmd, func(ctx context.Context, session *valve.Session) error {
		raw, err := session.ReadStateSnapshot(ctx)
		if err != nil {
			return err
		}
		fields, err := valve.DecodeSnapshot(raw)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if snapshotFormat == "json" {
			out := snapshotOutput{Address: session.Address(), Fields: fields}
			if snapshotRaw {
				out.Raw = hex.EncodeToString(raw)
			}
			return printJSON(w, out)
		}

		fmt.Fprintln(w, paint(w, titleColor, fmt.Sprintf("Valve %s", session.Address())))
		if snapshotRaw {
			fmt.Fprint(w, hex.Dump(raw))
			fmt.Fprintln(w)
		}
		return printFields(w, fields)
	})
}
