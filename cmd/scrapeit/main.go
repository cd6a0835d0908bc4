package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-it/config"
	"github.com/aluiziolira/go-scrape-it/models"
	"github.com/aluiziolira/go-scrape-it/pipeline"
	"github.com/aluiziolira/go-scrape-it/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type options struct {
	output      string
	format      string
	verbose     bool
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	if value, ok := os.LookupEnv("SCRAPEIT_OUTPUT"); ok {
		opts.output = value
	}
	if value, ok := os.LookupEnv("SCRAPEIT_METRICS_ADDR"); ok {
		opts.metricsAddr = value
	}

	root := &cobra.Command{
		Use:           "scrapeit <config>",
		Short:         "Scrape structured data from HTML pages described by a config file.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd.Context(), args[0], opts, cmd.ErrOrStderr())
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.output, "output", "o", opts.output, "Output file path (stdout when empty)")
	flags.StringVarP(&opts.format, "format", "f", pipeline.FormatJSON, "Output format: json, csv, or dual")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", opts.metricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(newValidateCmd(opts))
	return root
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a config file without fetching anything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.verbose)

			doc, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d url(s), %d field rule(s))\n",
				args[0], len(doc.Config.TargetURLs()), len(doc.Data))
			return nil
		},
	}
}

func runScrape(ctx context.Context, path string, opts *options, summary io.Writer) error {
	setupLogging(os.Stderr, opts.verbose)

	slog.Info("reading config", slog.String("path", path))
	doc, err := config.LoadFile(path)
	if err != nil {
		return err
	}

	s, err := scraper.NewScraper(doc)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	writer, err := pipeline.NewWriter(opts.format, opts.output)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping after the current request")
	}()

	var metricsServer *http.Server
	if opts.metricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    opts.metricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", opts.metricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	result, err := s.Run(ctx)
	if err != nil {
		writer.Close()
		if result != nil {
			printSummary(summary, result, opts)
		}
		return fmt.Errorf("scraping failed: %w", err)
	}

	if !isStdoutPath(opts.output) {
		slog.Info("saving output", slog.String("path", opts.output), slog.String("format", opts.format))
	}
	if err := pipeline.Export(writer, result); err != nil {
		return err
	}

	printSummary(summary, result, opts)
	return nil
}

func printSummary(w io.Writer, result *models.RunResult, opts *options) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Scrape complete")

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Fprintf(w, "  Pages:         %d\n", result.PageCount)
	fmt.Fprintf(w, "  Requests:      %d\n", result.RequestCount)
	fmt.Fprintf(w, "  Cache hits:    %d\n", result.CacheHits)
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(w, "  Errors:        %d\n", result.ErrorCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Failed URLs:   %d\n", len(result.FailedURLs))
	for _, u := range result.FailedURLs {
		fmt.Fprintf(w, "    - %s\n", u)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "  Warning:       %s\n", warning)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	output := opts.output
	if isStdoutPath(output) {
		output = "stdout"
	}
	fmt.Fprintf(w, "  Output:        %s (%s)\n", output, strings.ToLower(opts.format))
	fmt.Fprintln(w, separator)
}

func isStdoutPath(path string) bool {
	return path == "" || path == "-"
}

// setupLogging installs the default logger. Logs go to w so that stdout
// stays free for scraped output.
func setupLogging(w io.Writer, verbose bool) {
	logger, level := newLogger(w, verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())
}

func newLogger(w io.Writer, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
