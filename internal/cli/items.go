package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ytget/media-dispatch/internal/model"
	"github.com/ytget/media-dispatch/internal/resolver"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve an item and print its metadata and variants",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	}
	cmd.Flags().Bool("json", false, "output in JSON format")
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := background(cmd)
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	item, resolveErr := a.resolver.Resolve(ctx, args[0])
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := printJSON(cmd.OutOrStdout(), item); err != nil {
			return err
		}
		return resolveErr
	}
	if resolveErr != nil {
		return resolveErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", item.ID)
	fmt.Fprintf(out, "Title:    %s\n", item.Title)
	fmt.Fprintf(out, "Author:   %s\n", item.Author)
	fmt.Fprintf(out, "Uploaded: %s\n", model.NewTimestamp(item.CreatedAt))
	if len(item.Tags) > 0 {
		fmt.Fprintf(out, "Tags:     %s\n", strings.Join(item.Tags, ", "))
	}
	fmt.Fprintf(out, "Quality:  %s\n", item.SelectQuality())
	for _, v := range item.Variants {
		fmt.Fprintf(out, "  %-8s %s\n", v.Label, v.URL)
	}
	return nil
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>...",
		Short: "Queue items and dispatch them one at a time",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGet,
	}
	cmd.Flags().Bool("no-jitter", false, "skip the delay between items")
	cmd.Flags().Bool("json", false, "print the drain report as JSON")
	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := background(cmd)
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if noJitter, _ := cmd.Flags().GetBool("no-jitter"); noJitter {
		a.queue.SetJitterWindowFunc(func() (time.Duration, time.Duration) { return 0, 0 })
	}

	for _, id := range args {
		a.queue.Enqueue(id, id)
	}

	report, err := a.queue.Drain(ctx)
	if report == nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if perr := printJSON(out, report); perr != nil {
			return perr
		}
	} else {
		for _, res := range report.Results {
			if res.Error != "" {
				fmt.Fprintf(out, "%-10s %-18s %s\n", res.ID, res.Outcome, res.Error)
			} else {
				fmt.Fprintf(out, "%-10s %s\n", res.ID, res.Outcome)
			}
		}
	}
	if err != nil {
		return err
	}
	if failed := len(report.Results) - report.Count(model.OutcomeDispatched); failed > 0 {
		return fmt.Errorf("%d of %d items not dispatched", failed, len(report.Results))
	}
	return nil
}

func newSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <url>",
		Short: "Print the X-Version signature for a URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runSign,
	}
	cmd.Flags().String("salt", "", "override the configured salt")
	return cmd
}

func runSign(cmd *cobra.Command, args []string) error {
	salt, _ := cmd.Flags().GetString("salt")
	if salt == "" {
		a, err := openApp(background(cmd), cmd)
		if err != nil {
			return err
		}
		salt = a.settings.GetVersionSalt()
		a.Close()
	}

	version, err := resolver.Sign(args[0], salt)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), version)
	return nil
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", AppName, version)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// background is used when a command runs without a context
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
