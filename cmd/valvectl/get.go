package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/valvectl/internal/protocol"
	"github.com/srg/valvectl/internal/valve"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <field>|all",
	Short: "Read valve settings",
	Long: fmt.Sprintf(`Reads one field, or every field, from a valve.

Fields:
  %s

Examples:
  # Current room temperature of the first valve found
  valvectl get current-temperature

  # Everything, as JSON
  valvectl get all --address aa:bb:cc:dd:ee:01 --format json`, strings.Join(fieldNames(), "\n  ")),
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var getFormat string

func init() {
	getCmd.Flags().StringVarP(&getFormat, "format", "f", "table", "Output format (table, json)")
}

func fieldNames() []string {
	fields := protocol.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// resolveFields maps the command argument to registry fields.
func resolveFields(name string) ([]protocol.Field, error) {
	if name == "all" {
		return protocol.Fields(), nil
	}
	f, ok := protocol.LookupField(name)
	if !ok {
		return nil, fmt.Errorf("unknown field %q: must be one of %s or all", name, strings.Join(fieldNames(), ", "))
	}
	return []protocol.Field{f}, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	if err := validateFormat(getFormat); err != nil {
		return err
	}
	fields, err := resolveFields(args[0])
	if err != nil {
		return err
	}

	return withValve(cmd, func(ctx context.Context, session *valve.Session) error {
		values, err := readFields(ctx, session, fields)
		if err != nil {
			return err
		}
		if getFormat == "json" {
			return printJSON(cmd.OutOrStdout(), values)
		}
		return printFields(cmd.OutOrStdout(), values)
	})
}

func readFields(ctx context.Context, session *valve.Session, fields []protocol.Field) (*orderedmap.OrderedMap[string, any], error) {
	values := orderedmap.New[string, any](len(fields))
	for _, f := range fields {
		v, err := readField(ctx, session, f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		values.Set(f.Name, v)
	}
	return values, nil
}

func readField(ctx context.Context, session *valve.Session, f protocol.Field) (any, error) {
	switch f {
	case protocol.FieldSerialNumber:
		return session.GetSerialNumber(ctx)
	case protocol.FieldName:
		return session.GetName(ctx)
	case protocol.FieldLocked:
		return session.GetLocked(ctx)
	default:
		return session.ReadField(ctx, f)
	}
}
