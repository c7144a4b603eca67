package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/backend/internal/cache"
	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/config"
	"stockledger/backend/internal/logging"
	"stockledger/backend/internal/snapshot"
	"stockledger/backend/internal/store/memory"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, opts.date.IsZero())
	assert.True(t, opts.from.IsZero())
	assert.False(t, opts.rebuildStale)

	opts, err = parseFlags([]string{"-date", "2026-03-02"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, calendar.Day(2026, time.March, 2), opts.date)

	opts, err = parseFlags([]string{"-from", "2026-03-01", "-to", "2026-03-05"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, calendar.Day(2026, time.March, 1), opts.from)
	assert.Equal(t, calendar.Day(2026, time.March, 5), opts.to)

	opts, err = parseFlags([]string{"-rebuild-stale"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, opts.rebuildStale)
}

func TestParseFlagsRejectsBadCombinations(t *testing.T) {
	cases := [][]string{
		{"-date", "2026-03-02", "-from", "2026-03-01"},
		{"-from", "2026-03-01"},
		{"-to", "2026-03-01"},
		{"-date", "02-03-2026"},
		{"-rebuild-stale", "-date", "2026-03-02"},
		{"extra"},
		{"-bogus"},
	}
	for _, args := range cases {
		_, err := parseFlags(args, &bytes.Buffer{})
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestExecuteRunsDailyAndRange(t *testing.T) {
	day1 := calendar.Day(2026, time.March, 2)
	now := time.Date(2026, time.March, 4, 1, 0, 0, 0, time.UTC)
	cal := calendar.MustUTC(func() time.Time { return now })
	repo := memory.NewSeeded(day1, day1.Add(8*time.Hour))
	mat := snapshot.NewMaterializer(repo, cal, cache.NewLocalRunGuard(), cache.NoopMovementCache{}, logging.Discard())

	result, err := execute(context.Background(), mat, options{from: day1, to: day1})
	require.NoError(t, err)
	assert.Equal(t, 4, result.RowsWritten)

	result, err = execute(context.Background(), mat, options{})
	require.NoError(t, err)
	require.Len(t, result.Dates, 1)
	assert.Equal(t, calendar.Day(2026, time.March, 3), result.Dates[0])

	var out bytes.Buffer
	printResult(&out, result)
	assert.Contains(t, out.String(), "dates=[2026-03-03]")
	assert.Contains(t, out.String(), "written=4")
}

func TestRunRejectsBadArgumentsBeforeStartup(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-from", "2026-03-01"}, config.Config{OperatingTimezone: "UTC"}, logging.Discard(), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
	assert.Empty(t, out.String())
}

func TestRunMaterializesFromMemoryStore(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Config{OperatingTimezone: "UTC", SeedDemoData: true}
	yesterday := calendar.Format(calendar.Normalize(time.Now().UTC()).AddDate(0, 0, -1))
	err := run(context.Background(), []string{"-date", yesterday}, cfg, logging.Discard(), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "materialized dates=["+yesterday+"]")
}

func TestExitOnErrorLogsFatal(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	exitCode := -1
	logger.ExitFunc = func(code int) { exitCode = code }

	exitOnError(logger, nil)
	exitOnError(logger, flag.ErrHelp)
	assert.Equal(t, -1, exitCode)
	assert.Empty(t, hook.AllEntries())

	exitOnError(logger, errors.New("postgres unavailable"))
	assert.Equal(t, 1, exitCode)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.FatalLevel, hook.LastEntry().Level)
	assert.Equal(t, "materialize failed", hook.LastEntry().Message)
	assert.EqualError(t, hook.LastEntry().Data[logrus.ErrorKey].(error), "postgres unavailable")
}
