package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/kipwatch/internal/config"
	"github.com/TobiSchelling/kipwatch/internal/pipeline"
	"github.com/TobiSchelling/kipwatch/internal/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kipwatch",
	Short:   "Mine improvement-proposal mentions from the dev mailing list",
	Long:    "kipwatch downloads mailing-list archives, counts proposal mentions per thread, and keeps a cumulative mention cache alongside the proposal metadata from the wiki.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mailCmd)
	rootCmd.AddCommand(wikiCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("kipwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/kipwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the mailing list, wiki space, and output paths.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Archive segments:")
		fmt.Printf("  Stored: %d\n", stats.Segments)
		fmt.Printf("  Merged: %d\n", stats.MergedSegments)
		fmt.Println("\nProposals:")
		fmt.Printf("  Known from wiki: %d\n", stats.Proposals)
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		if stats.LastRun != "" {
			fmt.Printf("  Last finished: %s\n", stats.LastRun)
		}

		report, err := st.LastReport()
		if err != nil {
			return err
		}
		if report != nil {
			fmt.Printf("\nLast run (%s, %s):\n", report.Kind, report.Period)
			fmt.Printf("  Segments: %d ok, %d failed\n", report.SegmentsOK, report.SegmentsFailed)
			fmt.Printf("  Messages: %d parsed, %d skipped\n", report.MessagesParsed, report.MessagesSkipped)
			fmt.Printf("  New mentions: %d\n", report.NewMentions)
		}

		fmt.Printf("\nMention cache: %s\n", cfg.GetCacheFile())
		return nil
	},
}

// --- run command ---

var runDays int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: metadata -> fetch -> extract -> merge",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		pipe := pipeline.New(cfg, st)
		return printResult(pipe.Run(context.Background(), runDays))
	},
}

func init() {
	runCmd.Flags().IntVar(&runDays, "days", 0, "Override lookback window (days)")
}

// --- update command ---

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run the pipeline over the months since the last merge",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		pipe := pipeline.New(cfg, st)
		return printResult(pipe.Update(context.Background()))
	},
}

// --- mail command ---

var mailDays int

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Work with mailing-list archives",
}

var mailDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download archive segments without merging",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		pipe := pipeline.New(cfg, st)
		return printResult(pipe.DownloadMail(context.Background(), mailDays))
	},
}

var mailProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Mine stored segments and merge, without network access",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		pipe := pipeline.New(cfg, st)
		return printResult(pipe.ProcessMail(context.Background()))
	},
}

func init() {
	mailDownloadCmd.Flags().IntVar(&mailDays, "days", 0, "Override lookback window (days)")
	mailCmd.AddCommand(mailDownloadCmd)
	mailCmd.AddCommand(mailProcessCmd)
}

// --- wiki command ---

var wikiCmd = &cobra.Command{
	Use:   "wiki",
	Short: "Work with proposal metadata",
}

var wikiDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Refresh the proposal set from the wiki",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		pipe := pipeline.New(cfg, st)
		return printResult(pipe.DownloadWiki(context.Background()))
	},
}

func init() {
	wikiCmd.AddCommand(wikiDownloadCmd)
}

// printResult prints each step outcome. It returns an error only when a
// step aborted, so partial fetch failures keep a zero exit code.
func printResult(result *pipeline.Result) error {
	if result.Window != "" {
		fmt.Printf("Window: %s\n", result.Window)
	}
	for _, step := range result.Steps {
		fmt.Printf("\n%s\n", step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
	fmt.Println()
	return result.Err()
}

func openStore() (*store.Store, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(filepath.Join(dataDir, "kipwatch.db"))
}
