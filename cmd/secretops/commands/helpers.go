package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/secretops/pkg/secret"
)

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

func row(w io.Writer, cols ...interface{}) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}
	_, _ = fmt.Fprintln(w, strings.Join(parts, "\t"))
}

// restrictions returns nil when neither list is set.
func restrictions(apps, envs []string) *secret.UsageRestrictions {
	if len(apps) == 0 && len(envs) == 0 {
		return nil
	}
	return &secret.UsageRestrictions{AppIDs: apps, EnvTypes: envs}
}

func addRestrictionFlags(cmd *cobra.Command, apps, envs *[]string) {
	cmd.Flags().StringSliceVar(apps, "app", nil, "Restrict usage to application ids (repeatable)")
	cmd.Flags().StringSliceVar(envs, "env-type", nil, "Restrict usage to environment types (repeatable)")
}

// readValue returns value, or stdin when fromStdin is set. A single trailing
// newline is dropped from stdin.
func readValue(cmd *cobra.Command, value string, fromStdin bool) (string, error) {
	if !fromStdin {
		return value, nil
	}
	if value != "" {
		return "", fmt.Errorf("--value and --value-stdin are mutually exclusive")
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read value from stdin: %w", err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r"), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
