package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ordomods/ordo/pkg/engine"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// render writes v in the selected output format. text renders the human form.
func render(w io.Writer, v interface{}, text func(io.Writer)) error {
	switch outputFormat {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}

func printOrder(w io.Writer, order engine.PresentationOrder) {
	if len(order) == 0 {
		fmt.Fprintln(w, "(empty load order)")
		return
	}
	for _, e := range order {
		state := "✓"
		if e.IsDisabled {
			state = " "
		}
		var flags []string
		if e.Locked.IsLocked() {
			flags = append(flags, "locked")
		}
		if !e.IsValid {
			flags = append(flags, "invalid")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ", ") + "]"
		}
		fmt.Fprintf(w, "%3d [%s] %s (%s)%s\n", e.Index, state, e.Name, e.ID, suffix)
	}
}

func printNotifications(w io.Writer, notes []engine.Notification) {
	for _, n := range notes {
		fmt.Fprintf(w, "%s: %s\n", strings.ToUpper(string(n.Severity)), n.Message)
		for _, d := range n.Details {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
}
