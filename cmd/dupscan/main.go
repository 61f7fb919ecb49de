package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dupscan/internal/app"
	"dupscan/internal/config"
	"dupscan/internal/database"
	"dupscan/internal/dupscan"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a DupScanApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Scan", "MoveFile").
func newApp(ctx context.Context, operation string) (*app.DupScanApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewDupScanApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func promptPassphrase() (string, error) {
	return readPassphrase("Passphrase: ")
}

// printReport writes the per-entry failures and notices of a run to stderr.
func printReport(report *dupscan.Report) {
	if report == nil {
		return
	}
	for _, err := range report.Errors() {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	for _, n := range report.Notices() {
		fmt.Fprintf(os.Stderr, "note: %s\n", n)
	}
}

func printSize(tree *dupscan.TreeNode) string {
	s := fmt.Sprintf("%d bytes", tree.AggregateSize())
	if tree.HasUnknownSizes() {
		s += " (some sizes unknown)"
	}
	return s
}

func printDuplicates(dups dupscan.DuplicateSet) {
	if len(dups) == 0 {
		fmt.Println("No duplicates found.")
		return
	}
	for _, d := range dups.Digests() {
		group := dups[d]
		fmt.Printf("%s  %d files  %d bytes wasted\n", d.String()[:12], len(group), dupscan.GroupWaste(group))
		for _, p := range dups.SortedPaths(d) {
			fmt.Printf("    %s\n", p)
		}
	}
	fmt.Printf("\n%d group(s), %d file(s), %d bytes wasted\n", len(dups), dups.Files(), dups.WastedBytes())
}

var rootCmd = &cobra.Command{
	Use:          "dupscan",
	Short:        "Filesystem snapshots and duplicate finder",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the snapshot catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		catalog, err := database.NewCatalogFromConfig(cfg.Catalog)
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		defer catalog.Close()
		if err := catalog.Migrate(); err != nil {
			return fmt.Errorf("migrating catalog: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Log Level:  %s\n", cfg.LogLevel)
		fmt.Printf("Store:      %s\n", cfg.Store.Type)
		fmt.Printf("Catalog:    %s\n", cfg.Catalog.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Filters:    %s\n", strings.Join(cfg.Scan.Filters, ", "))
		fmt.Printf("Ignore:     %s\n", strings.Join(cfg.Scan.Ignore, ", "))
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SetupKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if pass != confirm {
			return errors.New("passphrases do not match")
		}

		if err := a.SetupKeys(pass); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan PATH",
	Short: "Scan a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, _ := cmd.Flags().GetBool("hash")
		filters, _ := cmd.Flags().GetStringArray("filter")
		output, _ := cmd.Flags().GetString("output")
		save, _ := cmd.Flags().GetString("save")

		a, err := newApp(cmd.Context(), "Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		tree, report, err := a.Scan(cmd.Context(), args[0], hash, filters)
		printReport(report)
		if err != nil {
			return fmt.Errorf("scanning: %w", err)
		}
		fmt.Printf("Scanned %d file(s) under %s, %s\n", len(tree.Records()), tree.RootPath(), printSize(tree))

		if output != "" {
			if err := a.ExportTree(tree, output); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Printf("Wrote %s\n", output)
		}
		if save != "" {
			info, err := a.SaveSnapshot(cmd.Context(), tree, save, nil)
			if err != nil {
				return fmt.Errorf("saving snapshot: %w", err)
			}
			fmt.Printf("Saved snapshot %s (%s)\n", info.ID, info.Name)
		}
		return nil
	},
}

// dupes command
var dupesCmd = &cobra.Command{
	Use:   "dupes [PATH]",
	Short: "Find duplicate files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		snapshot, _ := cmd.Flags().GetString("snapshot")
		save, _ := cmd.Flags().GetString("save")

		sources := 0
		for _, set := range []bool{len(args) == 1, file != "", snapshot != ""} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			return errors.New("give exactly one of PATH, --file or --snapshot")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "FindDuplicates")
		if err != nil {
			return err
		}
		defer a.Close()

		var tree *dupscan.TreeNode
		switch {
		case file != "":
			tree, err = a.LoadTreeFile(file)
		case snapshot != "":
			tree, _, err = a.LoadSnapshot(ctx, snapshot, promptPassphrase)
		default:
			var report *dupscan.Report
			tree, report, err = a.Scan(ctx, args[0], false, nil)
			printReport(report)
		}
		if err != nil {
			return err
		}

		dups, report, err := a.FindDuplicates(ctx, tree)
		printReport(report)
		if err != nil {
			return fmt.Errorf("finding duplicates: %w", err)
		}
		printDuplicates(dups)

		if save != "" {
			info, err := a.SaveSnapshot(ctx, tree, save, dups)
			if err != nil {
				return fmt.Errorf("saving snapshot: %w", err)
			}
			fmt.Printf("Saved snapshot %s (%s)\n", info.ID, info.Name)
		}
		return nil
	},
}

// snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List saved snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "ListSnapshots")
		if err != nil {
			return err
		}
		defer a.Close()

		snaps, err := a.ListSnapshots(limit)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots saved.")
			return nil
		}

		for _, s := range snaps {
			lock := ""
			if s.Encrypted {
				lock = "  [encrypted]"
			}
			fmt.Printf("%s  %-15s  %s  %6d files  %12d bytes  %s%s\n",
				s.ID,
				s.Name,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
				s.FileCount,
				s.AggregateSize,
				s.RootPath,
				lock,
			)
		}
		return nil
	},
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show REF",
	Short: "Show the duplicate groups recorded with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SnapshotDuplicates")
		if err != nil {
			return err
		}
		defer a.Close()

		sums, err := a.SnapshotDuplicates(args[0])
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("No duplicate groups recorded.")
			return nil
		}
		for _, s := range sums {
			fmt.Printf("%s  %d files  %d bytes wasted\n", s.Digest[:12], s.Members, s.WastedBytes)
		}
		return nil
	},
}

var snapshotsRmCmd = &cobra.Command{
	Use:   "rm REF",
	Short: "Delete a saved snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "DeleteSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted snapshot %s\n", args[0])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// tag command
var tagCmd = &cobra.Command{
	Use:   "tag FILE TAG",
	Short: "Tag entries of a snapshot document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		recursive, _ := cmd.Flags().GetBool("recursive")
		remove, _ := cmd.Flags().GetBool("remove")

		a, err := newApp(cmd.Context(), "TagFile")
		if err != nil {
			return err
		}
		defer a.Close()

		n, report, err := a.TagFile(args[0], path, args[1], recursive, remove)
		if err != nil {
			return fmt.Errorf("tagging: %w", err)
		}
		printReport(report)
		fmt.Printf("Updated %d file(s)\n", n)
		return nil
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv FILE DIR",
	Short: "Move a file into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "MoveFile")
		if err != nil {
			return err
		}
		defer a.Close()

		newPath, err := a.MoveFile(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Moved to %s\n", newPath)
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm FILE",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "DeleteFile")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteFile(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// rescan command
var rescanCmd = &cobra.Command{
	Use:   "rescan FILE",
	Short: "Show the current metadata of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, _ := cmd.Flags().GetBool("hash")

		a, err := newApp(cmd.Context(), "RescanFile")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, report, err := a.RescanFile(cmd.Context(), args[0], hash)
		printReport(report)
		if err != nil {
			return err
		}

		size := "unknown"
		if n, ok := rec.Size(); ok {
			size = fmt.Sprintf("%d", n)
		}
		fmt.Printf("Path:     %s\n", rec.Path())
		fmt.Printf("Size:     %s\n", size)
		fmt.Printf("Modified: %s\n", rec.ModifiedAt().Format(time.RFC3339Nano))
		fmt.Printf("Accessed: %s\n", rec.AccessedAt().Format(time.RFC3339Nano))
		fmt.Printf("Changed:  %s\n", rec.CreatedAt().Format(time.RFC3339Nano))
		if d, ok := rec.Digest(); ok {
			fmt.Printf("SHA-256:  %s\n", d)
		}
		return nil
	},
}

// compare command
var compareCmd = &cobra.Command{
	Use:   "compare A B",
	Short: "Compare two trees (directories, snapshot documents or saved snapshots)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Compare")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.Compare(cmd.Context(), args[0], args[1], promptPassphrase)
		if err != nil {
			return err
		}
		if c.Equal() {
			fmt.Println("No differences.")
			return nil
		}
		for _, p := range c.OnlyInA {
			fmt.Printf("- %s\n", p)
		}
		for _, p := range c.OnlyInB {
			fmt.Printf("+ %s\n", p)
		}
		for _, p := range c.Changed {
			fmt.Printf("~ %s\n", p)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// snapshots subcommands
	snapshotsCmd.AddCommand(snapshotsShowCmd)
	snapshotsCmd.AddCommand(snapshotsRmCmd)
	snapshotsCmd.Flags().IntP("limit", "n", 20, "Maximum number of snapshots to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Bool("hash", false, "Hash every file during the scan")
	scanCmd.Flags().StringArray("filter", nil, "Skip entries with this exact name (repeatable)")
	scanCmd.Flags().StringP("output", "o", "", "Write the snapshot document to FILE")
	scanCmd.Flags().String("save", "", "Save the snapshot to the store under NAME")
	rootCmd.AddCommand(dupesCmd)
	dupesCmd.Flags().String("file", "", "Read the tree from a snapshot document")
	dupesCmd.Flags().String("snapshot", "", "Read the tree from a saved snapshot (ID or name)")
	dupesCmd.Flags().String("save", "", "Save the tree and its duplicate groups under NAME")
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(tagCmd)
	tagCmd.Flags().String("path", "", "Entry to tag, absolute or relative to the document root")
	tagCmd.Flags().BoolP("recursive", "r", false, "Tag files in nested directories too")
	tagCmd.Flags().Bool("remove", false, "Remove the tag instead of adding it")
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(rescanCmd)
	rescanCmd.Flags().Bool("hash", false, "Recompute the content digest")
	rootCmd.AddCommand(compareCmd)
}
