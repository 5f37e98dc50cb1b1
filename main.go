package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/apodrating/internal/config"
	"github.com/briangreenhill/apodrating/internal/proxy"
	"github.com/briangreenhill/apodrating/nasa"
)

const version = "v0.1.0"

func main() {
	if err := runCLI(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCLI(args []string, out, errOut io.Writer) error {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	return root.Execute()
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "apodrating",
		Short:         "Query Astronomy Pictures of the Day through the caching proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "apodrating %s\n", version)
		},
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch [date...]",
		Short: "Fetch the records for one or more dates (YYYY-MM-DD)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  handleFetch,
	}
	fetchCmd.Flags().String("id", "", "Record id to stamp on the result (random when empty)")
	fetchCmd.Flags().String("api-key", "", "NASA API key (defaults to NASA_API_KEY)")
	fetchCmd.Flags().BoolP("verbose", "v", false, "Log proxy activity to stderr")

	root.AddCommand(versionCmd, fetchCmd)
	return root
}

func handleFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if key, _ := cmd.Flags().GetString("api-key"); key != "" {
		cfg.NASA.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := zerolog.WarnLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		Level(level).With().Timestamp().Logger()

	client := nasa.New(
		nasa.WithBaseURL(cfg.NASA.Host),
		nasa.WithPath(cfg.NASA.Path),
		nasa.WithRateLimit(cfg.NASA.RateLimit),
	)
	px := proxy.Build(cfg.Proxy(), client, logger, prometheus.NewRegistry())
	defer px.Close()

	id, _ := cmd.Flags().GetString("id")
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, date := range args {
		recID := id
		if recID == "" {
			recID = uuid.NewString()
		}
		rec, err := px.Query(ctx, recID, date, cfg.NASA.APIKey)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", date, err)
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
