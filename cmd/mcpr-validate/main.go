// mcpr-validate checks MCPR replay files: the two archive entries, the packet
// stream framing and the metadata document.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reallyoldfogie/mc-session-recorder/internal/logging"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr"
)

var flags struct {
	verbose bool
	quiet   bool
}

var rootCmd = &cobra.Command{
	Use:   "mcpr-validate <replay.mcpr> [replay2.mcpr ...]",
	Short: "Validate MCPR replay files for ReplayMod compatibility",
	Long: `Validate MCPR replay files for ReplayMod compatibility.

Each file must be a zip archive holding exactly recording.tmcpr followed by
metaData.json, a well formed packet stream with non-decreasing timestamps,
and metadata of format MCPR version 14.

Examples:
  # Validate one replay
  mcpr-validate session.mcpr

  # List every frame while validating
  mcpr-validate -v session.mcpr`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          validate,
}

func init() {
	rootCmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output, one line per frame")
	rootCmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "quiet mode (errors only), overrides -v")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func validate(cmd *cobra.Command, files []string) error {
	out := cmd.OutOrStdout()
	logger := logging.New(logging.Config{
		Level:  logging.LevelInfo,
		Format: logging.FormatText,
		Output: cmd.ErrOrStderr(),
	})
	if flags.quiet {
		logger = logging.Nop()
	}

	failed := 0
	for _, file := range files {
		if err := validateOne(out, file, logger); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ %s: %v\n", filepath.Base(file), err)
			failed++
			continue
		}
		if !flags.quiet {
			fmt.Fprintf(out, "✅ %s: valid\n", filepath.Base(file))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d replay files are invalid", failed, len(files))
	}
	if !flags.quiet && len(files) > 1 {
		fmt.Fprintf(out, "\nAll %d replay files are valid!\n", len(files))
	}
	return nil
}

func validateOne(out io.Writer, file string, logger *slog.Logger) error {
	if !flags.verbose || flags.quiet {
		return mcpr.ValidateFile(file, logger)
	}

	fmt.Fprintf(out, "Validating %s...\n", file)
	rep, err := mcpr.Inspect(file, func(f mcpr.Frame) error {
		id, body, err := mcpr.SplitPacket(f.Data)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %8d ms  id=0x%02X  %d bytes\n", f.Time, id, len(body))
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  entries:   %v\n", rep.Entries)
	fmt.Fprintf(out, "  server:    %s\n", rep.Meta.ServerName)
	fmt.Fprintf(out, "  version:   %s (protocol %d)\n", rep.Meta.MCVersion, rep.Meta.Protocol)
	fmt.Fprintf(out, "  duration:  %d ms\n", rep.Meta.Duration)
	fmt.Fprintf(out, "  packets:   %d (%d bytes)\n", rep.Packets, rep.Bytes)
	fmt.Fprintf(out, "  players:   %d\n", len(rep.Meta.Players))
	fmt.Fprintf(out, "  generator: %s\n", rep.Meta.Generator)
	return nil
}
