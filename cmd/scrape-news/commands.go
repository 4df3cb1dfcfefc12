package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/youssefhk-sw/scrape-news/internal/config"
	"github.com/youssefhk-sw/scrape-news/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch every channel once and store the clean news",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		channels, err := a.channels()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		report, err := a.pipeline.Run(ctx, channels)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s: %d saved, %d quarantined\n", report.RunID, report.Saved(), report.Quarantined())
		printReports(out, report.Channels)
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover <url>",
	Short: "Fetch one failed feed URL again through the recovery strategies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signalContext()
		defer cancel()

		rep, err := a.pipeline.RecoverURL(ctx, args[0])
		if err != nil {
			return err
		}
		printReports(cmd.OutOrStdout(), []pipeline.ChannelReport{rep})
		if !rep.OK() {
			return fmt.Errorf("%s not recovered: %w", args[0], rep.Err)
		}
		return nil
	},
}

var retryDueCmd = &cobra.Command{
	Use:   "retry-due",
	Short: "Retry failed URLs whose resend time has passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signalContext()
		defer cancel()

		reports, err := a.pipeline.RetryDue(ctx)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d urls retried, %d still failing\n", len(reports), len(a.pipeline.Failures()))
		printReports(out, reports)
		return err
	},
}

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Write a default config file and channel registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		configFile := cfgPath
		if configFile == "" {
			configFile = defaultConfigPath()
		}
		if err := config.GenerateDefaultConfig(configFile); err != nil {
			return fmt.Errorf("generating config: %w", err)
		}
		fmt.Fprintf(out, "Generated default configuration at: %s\n", configFile)

		registry := channelsPath
		if registry == "" {
			registry = "channels.toml"
		}
		if _, err := os.Stat(registry); err == nil {
			fmt.Fprintf(out, "Keeping existing channel registry at: %s\n", registry)
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.GenerateDefaultChannels(registry); err != nil {
			return fmt.Errorf("generating channels: %w", err)
		}
		fmt.Fprintf(out, "Generated channel registry at: %s\n", registry)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "scrape-news %s\n", Version)
		fmt.Fprintln(out, "Resilient RSS news acquisition")
		fmt.Fprintln(out, "github.com/youssefhk-sw/scrape-news")
	},
}

func printReports(out io.Writer, reports []pipeline.ChannelReport) {
	if len(reports) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tURL\tSTATUS\tRECOVERED\tENTRIES\tSAVED\tQUARANTINED\tERROR")
	for _, r := range reports {
		errText := "-"
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%d\t%d\t%d\t%s\n",
			r.Channel, r.WorkOn, r.StatusCode, r.Recovered, r.Entries, r.Saved, r.Quarantined, errText)
	}
	w.Flush()
}
