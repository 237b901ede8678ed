// mcpr-proxyrec is a TCP proxy that records the server to client side of one
// Minecraft 1.20.2 session into an MCPR replay.
//
// It accepts a single client, forwards both directions unchanged, and feeds a
// copy of the server stream through a session whose capture taps write the
// replay. It exits once the client disconnects or on SIGINT/SIGTERM, and
// finishes the replay either way. Encrypted (online-mode) sessions cannot be
// parsed; the proxy keeps forwarding and the replay stops at the login.
//
// Usage:
//
//	mcpr-proxyrec --upstream 127.0.0.1:25565 --listen :25566 --out session.mcpr
//	mcpr-proxyrec --config proxyrec.yaml --metrics-listen :9464
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reallyoldfogie/mc-session-recorder/internal/config"
	"github.com/reallyoldfogie/mc-session-recorder/internal/logging"
	"github.com/reallyoldfogie/mc-session-recorder/internal/metrics"
	"github.com/reallyoldfogie/mc-session-recorder/internal/wire"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr/recorder"
	"github.com/reallyoldfogie/mc-session-recorder/session"
)

var flags struct {
	config        string
	listen        string
	upstream      string
	out           string
	serverName    string
	record        bool
	exclude       bool
	logLevel      string
	logFormat     string
	metricsListen string
}

var rootCmd = &cobra.Command{
	Use:   "mcpr-proxyrec",
	Short: "Proxy one Minecraft session and record it as an MCPR replay",
	Long: `Proxy one Minecraft 1.20.2 client connection to an upstream server and
record every clientbound packet into a ReplayMod compatible .mcpr file.

Configuration is read from defaults, then the --config YAML file, then
MCREC_* environment variables, then explicit flags.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flags.config, "config", "c", "", "YAML configuration file")
	f.StringVar(&flags.listen, "listen", "", "local listen address")
	f.StringVar(&flags.upstream, "upstream", "", "upstream Minecraft server address")
	f.StringVarP(&flags.out, "out", "o", "", "output .mcpr path")
	f.StringVar(&flags.serverName, "server-name", "", "server name written to the replay (default: upstream address)")
	f.BoolVar(&flags.record, "record", true, "record the session")
	f.BoolVar(&flags.exclude, "exclude-login-compression", true, "leave the login SetCompression packet out of the replay")
	f.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&flags.logFormat, "log-format", "", "log format: text, json")
	f.StringVar(&flags.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers explicitly set flags over the file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.Listen = flags.listen
	}
	if changed("upstream") {
		cfg.Upstream = flags.upstream
	}
	if changed("out") {
		cfg.Recording.Path = flags.out
	}
	if changed("server-name") {
		cfg.Recording.ServerName = flags.serverName
	}
	if changed("record") {
		cfg.Recording.Enabled = flags.record
	}
	if changed("exclude-login-compression") {
		cfg.Recording.ExcludeLoginCompression = flags.exclude
	}
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}
	if changed("metrics-listen") {
		cfg.Metrics.Listen = flags.metricsListen
		cfg.Metrics.Enabled = flags.metricsListen != ""
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, _ := logging.WithSession(logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: os.Stderr,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observer recorder.Observer
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(nil)
		observer = collector
		srv := serveMetrics(cfg.Metrics.Listen, collector, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("listening", "listen", cfg.Listen, "upstream", cfg.Upstream)

	conn, err := accept(ctx, ln)
	_ = ln.Close()
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("client connected", "remote", conn.RemoteAddr().String())

	rec := cfg.Recording
	rec.ServerName = cfg.ServerName()
	sess, err := session.New(session.Options{
		Recording: rec,
		Logger:    logger,
		Observer:  observer,
	})
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	upstream, err := net.Dial("tcp", cfg.Upstream)
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("dial upstream: %w", err)
	}
	defer upstream.Close()

	// Either side hanging up closes both connections. The server stream then
	// ends, the parser closes frames and Run finishes with every packet
	// recorded. A signal cancels ctx; Run records the frames already parsed
	// and finishes the replay.
	connCtx, hangUp := context.WithCancel(ctx)
	defer hangUp()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
		_ = upstream.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer hangUp()
		if _, err := io.Copy(upstream, conn); err != nil && !isClosed(err) {
			logger.Warn("client to server copy ended", "error", err)
		}
	}()

	pr, pw := io.Pipe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer hangUp()
		err := forwardWithTee(upstream, conn, pw)
		_ = pw.CloseWithError(err)
		if err != nil && !errors.Is(err, io.EOF) && !isClosed(err) {
			logger.Warn("server to client copy ended", "error", err)
		}
	}()

	frames := make(chan wire.Frame, 256)
	go parse(pr, frames, logger)

	finishErr := sess.Run(ctx, frames, session.DefaultTick)
	hangUp()
	_ = pr.Close()
	for range frames {
	}
	wg.Wait()

	if r := sess.Recorder(); r != nil {
		if finishErr != nil {
			return fmt.Errorf("replay %s may be unusable: %w", r.Path(), finishErr)
		}
		if err := mcpr.ValidateFile(r.Path(), logger); err != nil {
			return fmt.Errorf("replay %s failed validation: %w", r.Path(), err)
		}
	}
	return nil
}

// accept waits for one client, giving up when ctx is done.
func accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return conn, nil
}

// parse splits the mirrored server stream into frames for the session and
// closes frames when the stream ends or stops decoding. After a decode error
// it drains r so forwarding is never blocked on the pipe.
func parse(r *io.PipeReader, frames chan<- wire.Frame, logger *slog.Logger) {
	defer close(frames)
	wr := wire.NewReader(r)
	for {
		f, err := wr.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosed(err) {
				logger.Warn("stopped parsing server stream", "phase", wr.Phase(), "error", err)
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}
		frames <- f
	}
}

// forwardWithTee copies from src to dst and mirrors the bytes into tee.
// A failing tee is dropped; forwarding goes on without it. It returns the
// first read or write error, io.EOF on a clean close.
func forwardWithTee(src io.Reader, dst io.Writer, tee io.Writer) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if tee != nil {
				if _, terr := tee.Write(buf[:n]); terr != nil {
					tee = nil
				}
			}
		}
		if rerr != nil {
			return rerr
		}
	}
}

func serveMetrics(addr string, c *metrics.Collector, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
