package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ytget/media-dispatch/internal/config"
	"github.com/ytget/media-dispatch/internal/template"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change persisted settings",
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE:  configGet,
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting (JSON values are decoded, anything else is a string)",
		Args:  cobra.ExactArgs(2),
		RunE:  configSet,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print every setting",
		Args:  cobra.NoArgs,
		RunE:  configList,
	}
	listCmd.Flags().Bool("show-secrets", false, "print credentials and tokens")

	ackCmd := &cobra.Command{
		Use:   "ack",
		Short: "Finish first-run setup and announce settings to other contexts",
		Args:  cobra.NoArgs,
		RunE:  configAck,
	}

	importCmd := &cobra.Command{
		Use:   "import <file.toml>",
		Short: "Load settings from a TOML file",
		Args:  cobra.ExactArgs(1),
		RunE:  configImport,
	}

	exportCmd := &cobra.Command{
		Use:   "export <file.toml>",
		Short: "Write settings to a TOML file, without secrets",
		Args:  cobra.ExactArgs(1),
		RunE:  configExport,
	}

	configCmd.AddCommand(getCmd, setCmd, listCmd, ackCmd, importCmd, exportCmd)
	return configCmd
}

func configGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(background(cmd), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	key := args[0]
	if _, known := config.Defaults()[key]; !known {
		return fmt.Errorf("unknown setting %q", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), template.Stringify(a.store.Get(key)))
	return nil
}

func configSet(cmd *cobra.Command, args []string) error {
	ctx := background(cmd)
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	key, raw := args[0], args[1]
	def, known := config.Defaults()[key]
	if !known {
		return fmt.Errorf("unknown setting %q", key)
	}

	// String settings take the argument verbatim.
	var value any = raw
	if _, isString := def.(string); !isString {
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		value = decoded
	}

	return a.settings.Apply(ctx, key, value)
}

func configList(cmd *cobra.Command, _ []string) error {
	a, err := openApp(background(cmd), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	showSecrets, _ := cmd.Flags().GetBool("show-secrets")
	out := cmd.OutOrStdout()
	for _, key := range a.store.Keys() {
		value := template.Stringify(a.store.Get(key))
		if config.SecretKeys[key] && !showSecrets && value != "" {
			value = "********"
		}
		fmt.Fprintf(out, "%-20s %s\n", key, value)
	}
	if a.store.InBootstrap() {
		fmt.Fprintln(out, "\n(first run: run `config ack` once settings look right)")
	}
	return nil
}

func configAck(cmd *cobra.Command, _ []string) error {
	ctx := background(cmd)
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	changed, err := a.store.Acknowledge(ctx)
	if err != nil {
		return err
	}
	if changed {
		fmt.Fprintln(cmd.OutOrStdout(), "acknowledged")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "already acknowledged")
	}
	return nil
}

func configImport(cmd *cobra.Command, args []string) error {
	ctx := background(cmd)
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := config.ImportFile(ctx, a.settings, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d settings\n", n)
	return nil
}

func configExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(background(cmd), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := config.ExportFile(a.store, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
	return nil
}
