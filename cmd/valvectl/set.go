package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/valvectl/internal/protocol"
	"github.com/srg/valvectl/internal/valve"
)

// setCmd represents the set command
var setCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Change a valve setting",
	Long: `Writes one field of a valve and prints the value read back.

Writable fields: locked, mode, target-temperature, target-temperature-saving,
target-temperature-auto, target-temperature-manual, name, serial-number.

Examples:
  # Lock the buttons
  valvectl set locked true

  # Comfort temperature of the auto preset
  valvectl set target-temperature-auto 21.5

  # Rename a specific valve
  valvectl set name "Living Room" --address aa:bb:cc:dd:ee:01`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

var setFormat string

func init() {
	setCmd.Flags().StringVarP(&setFormat, "format", "f", "table", "Output format (table, json)")
}

// parseFieldValue converts a command-line value to what the field's encoding
// accepts and checks that it encodes, so bad input fails before connecting.
func parseFieldValue(f protocol.Field, raw string) (any, error) {
	var value any = raw

	switch f.Encoding {
	case protocol.EncodingDirect:
		if b, err := strconv.ParseBool(raw); err == nil && !isDigits(raw) {
			value = 0
			if b {
				value = 1
			}
			break
		}
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q for %s: want an integer or true/false", raw, f.Name)
		}
		value = i
	case protocol.EncodingByteToFloat05:
		v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "C"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q for %s", raw, f.Name)
		}
		value = v
	}

	if f == protocol.FieldName {
		return value, nil
	}
	if _, err := protocol.EncodeField(f, value); err != nil {
		return nil, err
	}
	return value, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func runSet(cmd *cobra.Command, args []string) error {
	if err := validateFormat(setFormat); err != nil {
		return err
	}
	f, ok := protocol.LookupField(args[0])
	if !ok {
		return fmt.Errorf("unknown field %q: must be one of %s", args[0], strings.Join(fieldNames(), ", "))
	}
	value, err := parseFieldValue(f, args[1])
	if err != nil {
		return err
	}

	return withValve(cmd, func(ctx context.Context, session *valve.Session) error {
		if err := writeField(ctx, session, f, value); err != nil {
			return err
		}

		values, err := readFields(ctx, session, []protocol.Field{f})
		if err != nil {
			return err
		}
		if setFormat == "json" {
			return printJSON(cmd.OutOrStdout(), values)
		}
		return printFields(cmd.OutOrStdout(), values)
	})
}

func writeField(ctx context.Context, session *valve.Session, f protocol.Field, value any) error {
	switch f {
	case protocol.FieldName:
		return session.SetName(ctx, value.(string))
	case protocol.FieldLocked:
		return session.SetLocked(ctx, value.(int) != 0)
	case protocol.FieldMode:
		return session.SetMode(ctx, value.(int))
	default:
		return session.WriteField(ctx, f, value)
	}
}
