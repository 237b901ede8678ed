// mcpr-create writes a synthetic MCPR replay from packets given on the
// command line. It is meant for building fixtures and checking viewers.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reallyoldfogie/mc-session-recorder/mcpr"
)

type packetSpec struct {
	ts   uint32
	id   int32
	data []byte
}

// packetFlags implements pflag.Value for the repeatable --packet flag.
type packetFlags []packetSpec

func (p *packetFlags) String() string { return fmt.Sprintf("%d packets", len(*p)) }

func (p *packetFlags) Type() string { return "ts:id:hex" }

// Set parses ts:id:hexpayload, e.g. 1500:0x24:0AFFEE.
func (p *packetFlags) Set(v string) error {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return fmt.Errorf("invalid packet %q, want ts:id:hexpayload", v)
	}
	ts64, err := parseUint(parts[0])
	if err != nil {
		return fmt.Errorf("ts: %w", err)
	}
	id64, err := parseInt(parts[1])
	if err != nil {
		return fmt.Errorf("id: %w", err)
	}
	payload, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("hexpayload: %w", err)
	}
	*p = append(*p, packetSpec{ts: uint32(ts64), id: int32(id64), data: payload})
	return nil
}

func parseUint(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 32)
	}
	return strconv.ParseUint(s, 10, 32)
}

func parseInt(s string) (int64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 31)
		return int64(v), err
	}
	return strconv.ParseInt(s, 10, 32)
}

var flags struct {
	out        string
	serverName string
	generator  string
	packets    packetFlags
}

var rootCmd = &cobra.Command{
	Use:   "mcpr-create",
	Short: "Write a synthetic MCPR replay",
	Long: `Write a synthetic MCPR replay from packets given as ts:id:hexpayload.

Timestamps are milliseconds since the session start and must not decrease.
The replay duration is the last timestamp. Without packets an empty but
valid replay is written.

Examples:
  mcpr-create --out example.mcpr --packet 0:0x24:00000000000000FF --packet 1500:0x1B:00`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          create,
}

func init() {
	rootCmd.Flags().StringVarP(&flags.out, "out", "o", "example.mcpr", "output .mcpr path")
	rootCmd.Flags().StringVar(&flags.serverName, "server-name", "localhost", "server name in metadata")
	rootCmd.Flags().StringVar(&flags.generator, "generator", "", "generator string in metadata (default: this tool's version)")
	rootCmd.Flags().Var(&flags.packets, "packet", "packet spec ts:id:hexpayload (repeatable)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func create(cmd *cobra.Command, _ []string) error {
	if err := writeReplay(flags.out, flags.serverName, flags.generator, flags.packets, time.Now()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d packets)\n", flags.out, len(flags.packets))
	return nil
}

func writeReplay(path, serverName, generator string, pkts []packetSpec, date time.Time) (err error) {
	var last uint32
	for i, sp := range pkts {
		if sp.ts < last {
			return fmt.Errorf("packet %d: timestamp %d ms is before %d ms", i, sp.ts, last)
		}
		last = sp.ts
	}

	aw, err := mcpr.CreateArchive(path)
	if err != nil {
		return err
	}
	defer func() {
		if ferr := aw.Finalize(); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()

	if err := aw.BeginEntry(mcpr.RecordingEntry); err != nil {
		return err
	}
	for i, sp := range pkts {
		frame, err := mcpr.EncodeFrame(int64(sp.ts), mcpr.EncodeID(sp.id), sp.data)
		if err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
		if err := aw.Append(frame); err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
	}

	meta := mcpr.NewMeta(serverName, date, time.Duration(last)*time.Millisecond, generator)
	return mcpr.WriteMeta(aw, meta)
}
