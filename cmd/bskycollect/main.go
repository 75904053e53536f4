package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blackmichael/bsky-collect/internal/config"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.NewViper()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "bskycollect",
		Short:         "Collect Bluesky posts, interactions and social graphs into batched files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String(config.KeyHandle, "", "Bluesky handle (env BSKY_HANDLE)")
	pf.String(config.KeyAppPassword, "", "App password (env BSKY_APP_PSWD)")
	pf.String(config.KeyPDS, config.DefaultPDS, "PDS base URL (env BSKY_PDS)")
	pf.String(config.KeyLogLevel, "info", "Log level (debug, info, warn, error)")
	pf.String(config.KeyLogFormat, "console", "Log format (console, json)")
	pf.String(config.KeyOutDir, "", "Output directory (default bsky_<command>)")
	pf.String(config.KeyFormat, config.DefaultFormat, "Output format (json, jsonl, csv, sqlite)")
	pf.Int(config.KeyBatchSize, config.DefaultBatchSize, "Rows per written batch")
	pf.String(config.KeyCompression, "none", "Compression for file formats (none, gzip, zstd)")
	pf.Int(config.KeyMaxItems, 0, "Stop after this many accepted rows")
	pf.String(config.KeyMetricsAddr, "", "Serve /health, /status and /metrics on this address, e.g. :9090")
	pf.Float64(config.KeyRateLimit, config.DefaultRateLimit, "Maximum API requests per second (0 disables)")

	root.AddCommand(
		newStreamCmd(v),
		newHistoricalCmd(v),
		newGraphCmd(v, config.CommandFollowers, "followers <actor>", "List the accounts following an actor"),
		newGraphCmd(v, config.CommandFollowing, "following <actor>", "List the accounts an actor follows"),
		newGraphCmd(v, config.CommandRepostedBy, "reposted-by <post-uri>", "List the accounts that reposted a post"),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "bskycollect v%s\n", version)
				fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
				fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

func addContentFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice(config.KeyType, nil, "Only keep these action types (post, reply, repost, quote, like, other)")
	f.Bool(config.KeyHasLink, false, "Only keep rows with an embedded http(s) URL")
	f.String(config.KeyFilterTerm, "", "Case-insensitive regular expression matched against post text")
	f.Bool(config.KeyLiteral, false, "Match --filter-term as a plain substring")
}

func newStreamCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Collect from the live firehose",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, v, config.CommandStream, "")
		},
	}
	addContentFlags(cmd)
	cmd.Flags().String(config.KeyCutoff, "", "Stop at this time (YYYY-MM-DD HH:MM, UTC unless an offset is given)")
	cmd.Flags().String(config.KeyFirehoseURL, "", "Jetstream URL (env BSKY_FIREHOSE_URL)")
	return cmd
}

func newHistoricalCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "historical",
		Short: "Collect past posts from search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, v, config.CommandHistorical, "")
		},
	}
	addContentFlags(cmd)
	f := cmd.Flags()
	f.String(config.KeyQuery, "", "Search query sent to the server (defaults to --filter-term)")
	f.String(config.KeySince, "", "Oldest post time to keep")
	f.String(config.KeyUntil, "", "Newest post time to keep")
	f.Bool(config.KeyNoBackfill, false, "Stop when the search cursor runs out instead of restarting from the oldest post seen")
	return cmd
}

func newGraphCmd(v *viper.Viper, command config.Command, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, v, command, args[0])
		},
	}
}

func execute(cmd *cobra.Command, v *viper.Viper, command config.Command, subject string) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return run(cmd.Context(), v, command, subject, cmd.OutOrStdout())
}
