package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openagents/openagents/internal/errors"
)

// renderStructured marshals v to the command's stdout as JSON or YAML.
func renderStructured(cmd *cobra.Command, format string, v any) error {
	out := cmd.OutOrStdout()

	switch format {
	case OutputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal JSON output")
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case OutputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to marshal YAML output")
		}
		_, err = fmt.Fprint(out, string(data))
		return err
	default:
		return errors.Wrapf(errors.ErrInvalidOutputFormat, "%q", format)
	}
}
