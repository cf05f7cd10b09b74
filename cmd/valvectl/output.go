package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/term"
)

var (
	validFormats = []string{"table", "json"}

	keyColor   = color.New(color.FgCyan)
	valueColor = color.New(color.FgGreen)
	titleColor = color.New(color.Bold)
)

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
}

// colorsEnabled reports whether w is an interactive terminal.
func colorsEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && !color.NoColor && term.IsTerminal(int(f.Fd()))
}

func paint(w io.Writer, c *color.Color, s string) string {
	if !colorsEnabled(w) {
		return s
	}
	return c.Sprint(s)
}

// formatValue renders a decoded field value for humans.
func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return strconv.Quote(val)
	default:
		return fmt.Sprint(val)
	}
}

// printFields writes name: value lines with names padded to a common width.
func printFields(w io.Writer, fields *orderedmap.OrderedMap[string, any]) error {
	width := 0
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		width = max(width, len(pair.Key))
	}
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		key := fmt.Sprintf("%-*s", width+1, pair.Key+":")
		if _, err := fmt.Fprintf(w, "%s %s\n", paint(w, keyColor, key), paint(w, valueColor, formatValue(pair.Value))); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
