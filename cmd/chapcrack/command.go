package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chapcrack-go/pkg/capture"
	"chapcrack-go/pkg/chap"
	"chapcrack-go/pkg/config"
	"chapcrack-go/pkg/k3"
	"chapcrack-go/pkg/metrics"
	"chapcrack-go/pkg/mppe"
	"chapcrack-go/pkg/mschap"
	"chapcrack-go/pkg/persistence"
	"chapcrack-go/pkg/ppp"
	"chapcrack-go/pkg/report"
	"chapcrack-go/pkg/securestore"
)

const usage = `Usage: chapcrack <command> [options]

Commands:
  parse    extract MS-CHAPv2 handshakes from a capture and crack K3
  decrypt  decrypt MPPE traffic of a capture with a known NT hash
  token    decode a $99$ cracking service token
`

var errUsage = errors.New("invalid usage")

type options struct {
	configPath string
	debug      bool
	input      string
	output     string
	ntHash     string
	password   string
	reportFile string
	workers    int
}

func newFlagSet(name string, out io.Writer, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.configPath, "config", "", "Path to the configuration file")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&opts.input, "i", "", "Input capture file (pcap or pcapng)")
	fs.StringVar(&opts.reportFile, "r", "", "Write handshake reports as JSON to this file")
	return fs
}

// processCommand runs one chapcrack command. Human output goes to out.
func processCommand(ctx context.Context, args []string, out io.Writer, logger zerolog.Logger) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errUsage
	}
	cmd, args := args[0], args[1:]

	var opts options
	fs := newFlagSet(cmd, out, &opts)

	switch cmd {
	case "parse":
		fs.IntVar(&opts.workers, "w", 0, "Number of K3 workers (default: one per CPU)")
	case "decrypt":
		fs.StringVar(&opts.output, "o", "", "Output capture file for decrypted frames")
		fs.StringVar(&opts.ntHash, "n", "", "NT hash of the account (32 hex characters)")
		fs.StringVar(&opts.password, "p", "", "Password of the account, used to compute the NT hash")
	case "token":
		if len(args) != 1 {
			fmt.Fprint(out, usage)
			return fmt.Errorf("%w: token takes exactly one argument", errUsage)
		}
		return runToken(args[0], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}
	logger = withLevel(logger, cfg.Logging.Level, opts.debug)

	var recorder metrics.Recorder = metrics.NewNoopRecorder()
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder()
	}

	switch cmd {
	case "parse":
		err = runParse(ctx, cfg, out, logger, recorder)
	case "decrypt":
		err = runDecrypt(cfg, out, logger, recorder)
	}

	if werr := recorder.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
		logger.Error().Err(werr).Msg("Failed to export metrics")
	}
	return err
}

// loadConfig reads the configuration and lets command-line flags override it.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	if opts.input != "" {
		cfg.Input = opts.input
	}
	if opts.output != "" {
		cfg.Output = opts.output
	}
	if opts.reportFile != "" {
		cfg.ReportFile = opts.reportFile
	}
	if opts.workers != 0 {
		cfg.Workers = opts.workers
	}
	if err := cfg.SetNTHash(opts.ntHash); err != nil {
		return nil, err
	}
	if opts.password != "" {
		hash, err := mschap.NtPasswordHash(opts.password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		cfg.NTHash = securestore.NewSecret(hash)
	}

	if cfg.Input == "" {
		return nil, fmt.Errorf("%w: an input capture is required (-i)", errUsage)
	}
	return cfg, nil
}

func withLevel(logger zerolog.Logger, level string, debug bool) zerolog.Logger {
	if debug {
		return logger.Level(zerolog.DebugLevel)
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func runParse(ctx context.Context, cfg *config.Config, out io.Writer, logger zerolog.Logger, recorder metrics.Recorder) error {
	r, closer, err := capture.OpenFile(cfg.Input, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	tracker := chap.NewTracker()
	for {
		p, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if c, ok := p.(*capture.ChapPacket); ok {
			recorder.Packet("chap")
			tracker.AddHandshakePacket(c)
		}
	}
	logStats(logger, r.Stats())

	var handshakes []*chap.Handshake
	for _, clients := range tracker.CompletedHandshakes() {
		for _, h := range clients {
			handshakes = append(handshakes, h)
		}
	}
	chap.SortHandshakes(handshakes)

	if len(handshakes) == 0 {
		fmt.Fprintln(out, "No complete MS-CHAPv2 handshakes found")
	}

	cracker := k3.New(cfg.Workers, logger)
	reports := make([]report.HandshakeReport, 0, len(handshakes))
	for _, h := range handshakes {
		rep := report.FromHandshake(h)
		_, _, c3 := h.Ciphertext()

		start := time.Now()
		key, err := cracker.Crack(ctx, h.Plaintext(), c3)
		recorder.K3Crack(time.Since(start), err == nil)
		if err != nil {
			return fmt.Errorf("failed to crack K3 for %s: %w", h.Pair(), err)
		}

		rep = rep.WithK3(key)
		reports = append(reports, rep)
		fmt.Fprint(out, rep.String())
	}

	return saveReports(cfg, reports, logger)
}

func runDecrypt(cfg *config.Config, out io.Writer, logger zerolog.Logger, recorder metrics.Recorder) error {
	if !cfg.NTHash.IsSet() {
		return fmt.Errorf("%w: decrypt needs an NT hash (-n) or password (-p)", errUsage)
	}
	if cfg.Output == "" {
		return fmt.Errorf("%w: decrypt needs an output capture (-o)", errUsage)
	}

	ntHash, err := cfg.NTHash.Copy()
	if err != nil {
		return err
	}
	defer clear(ntHash)

	r, rc, err := capture.OpenFile(cfg.Input, logger)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, wc, err := capture.CreateFile(cfg.Output, r.Format(), r.Snaplen())
	if err != nil {
		return err
	}

	m, err := ppp.New(ntHash, logger, recorder, mppe.WithResyncOnFlush(cfg.MPPE.ResyncOnFlush))
	if err != nil {
		wc.Close()
		return err
	}

	for {
		p, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			wc.Close()
			return err
		}
		if f, ok := m.AddPacket(p); ok {
			if err := w.WriteFrame(f); err != nil {
				wc.Close()
				return err
			}
		}
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", cfg.Output, err)
	}
	logStats(logger, r.Stats())

	verified := m.VerifiedHandshakes()
	if len(verified) == 0 {
		logger.Warn().Msg("No handshake matched the NT hash")
	}

	reports := make([]report.HandshakeReport, 0, len(verified))
	for _, h := range verified {
		rep := report.FromHandshake(h).WithK3(append(slices.Clone(ntHash[14:16]), 0, 0, 0, 0, 0))
		reports = append(reports, rep)
		fmt.Fprint(out, rep.String())

		if c2s, s2c, ok := m.MppeStats(h.Pair()); ok {
			logger.Info().Str("client", h.Pair().Client.String()).Str("server", h.Pair().Server.String()).
				Int("c2s_decrypted", c2s.Decrypted).Int("c2s_stale", c2s.Stale).
				Int("s2c_decrypted", s2c.Decrypted).Int("s2c_stale", s2c.Stale).
				Msg("MPPE summary")
		}
	}
	fmt.Fprintf(out, "Wrote %d decrypted frames to %s\n", w.Frames(), cfg.Output)

	return saveReports(cfg, reports, logger)
}

func runToken(token string, out io.Writer) error {
	plaintext, c1, c2, k3Prefix, err := report.ParseToken(token)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, " P = %x\nC1 = %x\nC2 = %x\nK3 = %x0000000000\n", plaintext, c1, c2, k3Prefix)
	return nil
}

func saveReports(cfg *config.Config, reports []report.HandshakeReport, logger zerolog.Logger) error {
	if cfg.ReportFile == "" {
		return nil
	}
	return persistence.SaveReports(reports, cfg.ReportFile, logger)
}

func logStats(logger zerolog.Logger, s capture.Stats) {
	logger.Info().Int("frames", s.Frames).Int("skipped", s.Skipped).
		Int("chap", s.Chap).Int("ccp", s.Ccp).Int("mppe", s.Mppe).
		Msg("Capture processed")
}
