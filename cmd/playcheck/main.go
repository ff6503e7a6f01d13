// playcheck plays a DASH presentation headlessly against the verifier and
// writes a JSON report of the verification outcome.
//
//	playcheck [flags] <mpd-url>
//
// The exit status is 0 when the presentation verified, 2 when a segment
// failed validation or the friction gate blocked playback, 3 when the
// status stayed unknown and 1 on errors.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/config"
	"c2pastreamd/internal/dash"
	"c2pastreamd/internal/headless"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/models"
	"c2pastreamd/internal/store"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// parseSeek parses an "at:to" pair of seconds.
func parseSeek(s string) (headless.Seek, error) {
	at, to, ok := strings.Cut(s, ":")
	if !ok {
		return headless.Seek{}, fmt.Errorf("seek %q: want at:to", s)
	}
	a, err := strconv.ParseFloat(at, 64)
	if err != nil {
		return headless.Seek{}, fmt.Errorf("seek %q: %w", s, err)
	}
	t, err := strconv.ParseFloat(to, 64)
	if err != nil {
		return headless.Seek{}, fmt.Errorf("seek %q: %w", s, err)
	}
	if a < 0 || t < 0 {
		return headless.Seek{}, fmt.Errorf("seek %q: negative time", s)
	}
	return headless.Seek{At: a, To: t}, nil
}

func exitCode(report *headless.Report) int {
	if report.Blocked {
		return 2
	}
	switch report.Status {
	case models.StatusPassed:
		return 0
	case models.StatusFailed:
		return 2
	default:
		return 3
	}
}

func run() (int, error) {
	var (
		configFile string
		logLevel   string
		out        string
		step       float64
		seeks      []string
		ack        bool
	)
	flagSet := pflag.NewFlagSet("playcheck", pflag.ContinueOnError)
	flagSet.StringVarP(&configFile, "config", "c", "", "path to the YAML config file")
	flagSet.StringVarP(&logLevel, "log-level", "L", "", "log level (error, warn, info, debug)")
	flagSet.StringVarP(&out, "out", "o", "", "write the report to this file instead of stdout")
	flagSet.Float64Var(&step, "step", headless.DefaultStep, "playhead advance per time update in seconds")
	flagSet.StringSliceVar(&seeks, "seek", nil, "seek to TO once playback reaches AT, as AT:TO (repeatable)")
	flagSet.BoolVar(&ack, "watch-anyway", false, "acknowledge the friction overlay and keep playing")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0, nil
		}
		return 1, err
	}
	if flagSet.NArg() != 1 {
		return 1, fmt.Errorf("usage: playcheck [flags] <mpd-url>")
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return 1, err
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	// Logs go to stderr so the report can be piped.
	log := logger.NewLoggerTo(os.Stderr, cfg.LogLevel)

	var scripted []headless.Seek
	for _, s := range seeks {
		sk, err := parseSeek(s)
		if err != nil {
			return 1, err
		}
		scripted = append(scripted, sk)
	}

	reader := c2pa.NewHTTPReader(&http.Client{}, log.WithComponent("verifier"), cfg.Verifier.URL)
	reader.MaxRetries = cfg.Verifier.MaxRetries
	reader.RetryDelay = cfg.Verifier.RetryDelay
	reader.RequestTimeout = cfg.Verifier.Timeout

	var results *store.ResultStore
	if cfg.ResultCache.Enabled {
		results, err = store.Open(store.Options{
			Path:     cfg.ResultCache.Path,
			InMemory: cfg.ResultCache.InMemory,
			TTL:      cfg.ResultCache.TTL,
		})
		if err != nil {
			return 1, err
		}
		defer results.Close()
	}

	client := dash.NewClient(log.WithComponent("dash"), cfg.UserAgent)
	runner, err := headless.NewRunner(headless.Options{
		MPDURL: flagSet.Arg(0),
		Client: client,
		Downloader: dash.NewSegmentDownloader(http.DefaultClient, log.WithComponent("downloader"), dash.DownloaderOptions{
			UserAgent:         cfg.UserAgent,
			MaxRetries:        cfg.Origin.MaxRetries,
			Timeout:           cfg.Origin.Timeout,
			RequestsPerSecond: cfg.Origin.RequestsPerSecond,
		}),
		Reader:          reader,
		Results:         results,
		Probe:           cfg.Verifier.Probe,
		Epsilon:         cfg.Player.Epsilon,
		FrameInterval:   cfg.Player.FrameInterval,
		SeekThreshold:   cfg.Player.SeekThreshold,
		Step:            step,
		Seeks:           scripted,
		Workers:         cfg.Origin.Workers,
		AutoAcknowledge: ack,
		Logger:          log.WithComponent("headless"),
	})
	if err != nil {
		return 1, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runner.Run(ctx)
	if err != nil {
		return 1, err
	}
	log.Infof("Playback finished: verified=%s compromised=%v", report.Status, report.Compromised)

	if out == "" {
		if err := report.Encode(os.Stdout); err != nil {
			return 1, err
		}
	} else if err := headless.WriteReport(out, report); err != nil {
		return 1, err
	}
	return exitCode(report), nil
}
