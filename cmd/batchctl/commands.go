package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/logging"
	"github.com/yourusername/paper-batch/internal/pdf"
)

const envPrefix = "BATCHCTL"

// newRootCmd はルートコマンドを作成します。フラグは BATCHCTL_* 環境変数でも指定できます。
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "batchctl",
		Short:         "Run PDF operations over many files with bounded concurrency",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
	_ = v.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newRunCmd(v),
		newOperationsCmd(),
	)
	return rootCmd
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] files...",
		Short: "Process files with one operation and write the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := runConfigFrom(v)
			if err := cfg.validate(); err != nil {
				return err
			}

			logger := logging.NewWithOutput(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
			stats, outPath, err := runBatch(cmd.Context(), cfg, args, logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "total=%d completed=%d failed=%d\n", stats.Total, stats.Completed, stats.Failed)
			if outPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			}
			if stats.Failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", stats.Failed, stats.Total)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("op", "", "operation to run ("+operationNames()+")")
	flags.Int("concurrency", batch.DefaultMaxConcurrent, "maximum number of files processed at once")
	flags.String("out", ".", "directory to write the result (a single PDF or batch_processed.zip)")
	flags.String("options", "", "operation options as JSON, e.g. {\"preset\":\"aggressive\"}")
	flags.String("work-dir", "", "directory for intermediate files (default: a temporary directory)")
	flags.String("ghostscript", "", "path to the gs binary; pdfcpu is used for optimize when empty")
	flags.Int("max-pages", 0, "reject files with more pages (0 = unlimited)")
	flags.Int64("max-file-size", 0, "reject files larger than this many bytes (0 = unlimited)")
	_ = v.BindPFlags(flags)

	return cmd
}

func newOperationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List available operations",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, op := range pdf.Operations() {
				fmt.Fprintln(cmd.OutOrStdout(), op)
			}
		},
	}
}

func operationNames() string {
	ops := pdf.Operations()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}

func runConfigFrom(v *viper.Viper) runConfig {
	return runConfig{
		Operation:   pdf.OperationType(strings.ToLower(strings.TrimSpace(v.GetString("op")))),
		Concurrency: v.GetInt("concurrency"),
		OutDir:      v.GetString("out"),
		Options:     v.GetString("options"),
		WorkDir:     v.GetString("work-dir"),
		Ghostscript: v.GetString("ghostscript"),
		MaxPages:    v.GetInt("max-pages"),
		MaxFileSize: v.GetInt64("max-file-size"),
	}
}

func (c runConfig) validate() error {
	if c.Operation == "" {
		return fmt.Errorf("--op is required (%s)", operationNames())
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1 (got %d)", c.Concurrency)
	}
	if c.OutDir == "" {
		return fmt.Errorf("--out is required")
	}
	if info, err := os.Stat(c.OutDir); err != nil || !info.IsDir() {
		return fmt.Errorf("--out must be an existing directory: %s", c.OutDir)
	}
	return nil
}
