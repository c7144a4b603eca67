package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"stockledger/backend/internal/bootstrap"
	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/config"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/logging"
	"stockledger/backend/internal/snapshot"
)

type options struct {
	date         time.Time
	from         time.Time
	to           time.Time
	rebuildStale bool
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	exitOnError(logger, run(context.Background(), os.Args[1:], cfg, logger, os.Stdout))
}

// exitOnError logs a failed run at fatal level, which exits non-zero.
func exitOnError(logger *logrus.Logger, err error) {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return
	}
	logger.WithError(err).Fatal("materialize failed")
}

func run(ctx context.Context, args []string, cfg config.Config, logger logrus.FieldLogger, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("invalid arguments: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer rt.Close()

	result, err := execute(ctx, rt.Materializer, opts)
	if err != nil {
		return err
	}
	printResult(stdout, result)
	return nil
}

// parseFlags accepts -date, or -from with -to, or neither for the daily run.
func parseFlags(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("materialize", flag.ContinueOnError)
	fs.SetOutput(output)
	date := fs.String("date", "", "Materialize one closed day (YYYY-MM-DD).")
	from := fs.String("from", "", "Start of a backfill range (YYYY-MM-DD), requires -to.")
	to := fs.String("to", "", "End of a backfill range (YYYY-MM-DD), requires -from.")
	rebuild := fs.Bool("rebuild-stale", false, "Only rebuild items invalidated by backdated changes.")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	var opts options
	opts.rebuildStale = *rebuild
	set := 0
	for _, raw := range []string{*date, *from, *to} {
		if strings.TrimSpace(raw) != "" {
			set++
		}
	}
	if opts.rebuildStale && set > 0 {
		return options{}, fmt.Errorf("-rebuild-stale takes no dates")
	}

	var err error
	switch {
	case *date != "" && (*from != "" || *to != ""):
		return options{}, fmt.Errorf("use either -date or -from/-to")
	case *date != "":
		if opts.date, err = calendar.Parse(*date); err != nil {
			return options{}, fmt.Errorf("-date: %w", err)
		}
	case *from != "" && *to != "":
		if opts.from, err = calendar.Parse(*from); err != nil {
			return options{}, fmt.Errorf("-from: %w", err)
		}
		if opts.to, err = calendar.Parse(*to); err != nil {
			return options{}, fmt.Errorf("-to: %w", err)
		}
	case *from != "" || *to != "":
		return options{}, fmt.Errorf("-from and -to go together")
	}
	return opts, nil
}

func execute(ctx context.Context, mat *snapshot.Materializer, opts options) (*domain.MaterializeResult, error) {
	switch {
	case opts.rebuildStale:
		return mat.RebuildStale(ctx)
	case !opts.date.IsZero():
		return mat.Materialize(ctx, opts.date)
	case !opts.from.IsZero():
		return mat.MaterializeRange(ctx, opts.from, opts.to)
	default:
		return mat.RunDaily(ctx)
	}
}

func printResult(w io.Writer, result *domain.MaterializeResult) {
	dates := make([]string, 0, len(result.Dates))
	for _, d := range result.Dates {
		dates = append(dates, calendar.Format(d))
	}
	fmt.Fprintf(w, "materialized dates=[%s] anchor=%s written=%d shifted=%d rebuilt=%d\n",
		strings.Join(dates, ","), calendar.Format(result.Anchor), result.RowsWritten, result.RowsShifted, len(result.RebuiltItems))
}
