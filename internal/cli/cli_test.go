package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	goflags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseOnly parses args without executing the matched command.
func parseOnly(t *testing.T, args ...string) (*GlobalFlags, *commands, error) {
	t.Helper()
	parser, globals, cmds := buildParser("test")
	parser.Options &^= goflags.PrintErrors
	parser.CommandHandler = func(goflags.Commander, []string) error { return nil }
	_, err := parser.ParseArgs(args)
	return globals, cmds, err
}

// writeConfig writes a config file keeping all state under a temp dir.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  path: " + dir + "\nlogging:\n  level: error\ndaemon:\n  port: 1\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestVersionFlag(t *testing.T) {
	var err error
	output := captureOutput(t, func() {
		err = RunWithArgs("0.1.0-test", []string{"--version"})
	})

	assert.NoError(t, err)
	assert.Contains(t, output, "readtrail 0.1.0-test")
}

func TestVersionOutputFormat(t *testing.T) {
	output := captureOutput(t, func() {
		_ = RunWithArgs("1.2.3", []string{"--version"})
	})
	assert.Equal(t, "readtrail 1.2.3", strings.TrimSpace(output))
}

func TestSubcommandsRecognized(t *testing.T) {
	cases := [][]string{
		{"status"},
		{"doc", "--key", "DOC", "--title", "A paper", "--tag", "a", "--tag", "b"},
		{"visit", "--key", "DOC", "--page", "3", "--ago", "15m", "--samples", "4"},
		{"tree", "--library", "2", "--tz", "Europe/Paris"},
		{"search", "--text", "paper", "--kind", "note", "--parent", "DOC", "--include-trashed"},
		{"summary", "--key", "DOC"},
		{"import", "--file", "export.json"},
		{"prune", "--dry-run"},
		{"clear", "--all", "--force"},
		{"ingest", "--port", "9000", "--log-level", "debug"},
	}
	for _, args := range cases {
		t.Run(args[0], func(t *testing.T) {
			_, _, err := parseOnly(t, args...)
			assert.NoError(t, err)
		})
	}
}

func TestUnknownSubcommand(t *testing.T) {
	_, _, err := parseOnly(t, "search", "query")
	assert.Error(t, err)
}

func TestGlobalFlagsParsed(t *testing.T) {
	globals, cmds, err := parseOnly(t, "--json", "--config", "/tmp/x.yaml", "doc", "--key", "DOC", "--tag", "a", "--tag", "b")
	require.NoError(t, err)
	assert.True(t, globals.JSON)
	assert.Equal(t, "/tmp/x.yaml", globals.Config)
	assert.Equal(t, []string{"a", "b"}, cmds.Doc.Tags)
	assert.Same(t, globals, cmds.Doc.globals)
}

func TestVisitDefaults(t *testing.T) {
	_, cmds, err := parseOnly(t, "visit", "--key", "DOC", "--page", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, cmds.Visit.Samples)
	assert.Equal(t, int64(0), cmds.Visit.Library)
}

func TestRequiredFlags(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"doc"}, "--key is required"},
		{[]string{"visit", "--page", "2"}, "--key is required"},
		{[]string{"visit", "--key", "DOC"}, "--page must be at least 1"},
		{[]string{"visit", "--key", "DOC", "--page", "1", "--samples", "0"}, "--samples must be at least 1"},
		{[]string{"import"}, "--file is required"},
		{[]string{"clear"}, "either --key or --all is required"},
		{[]string{"clear", "--key", "DOC", "--all"}, "mutually exclusive"},
	}
	for _, tc := range cases {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			err := RunWithArgs("test", tc.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRunWithArgs_EndToEnd(t *testing.T) {
	cfg := writeConfig(t, "")

	output := captureOutput(t, func() {
		require.NoError(t, RunWithArgs("test", []string{"--config", cfg, "doc", "--key", "DOC", "--title", "A paper"}))
		require.NoError(t, RunWithArgs("test", []string{"--config", cfg, "visit", "--key", "DOC", "--page", "2", "--page-count", "5", "--samples", "3"}))
	})
	assert.Contains(t, output, "Registered DOC (A paper)")
	assert.Contains(t, output, "Recorded 3 sample(s) on page 2 of DOC")

	output = captureOutput(t, func() {
		require.NoError(t, RunWithArgs("test", []string{"--config", cfg, "summary", "--key", "DOC"}))
	})
	assert.Contains(t, output, "DOC: 20s (5 pages)")
	assert.Contains(t, output, "1 visit(s)")
}

func TestParseDuration(t *testing.T) {
	cases := map[string]string{
		"30d": "720h0m0s",
		"2h":  "2h0m0s",
		"1w":  "168h0m0s",
		"15m": "15m0s",
		"45s": "45s",
	}
	for in, want := range cases {
		d, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, d.String(), in)
	}

	for _, bad := range []string{"", "d", "10", "10y", "-1h", "xh"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "0s", formatSeconds(0))
	assert.Equal(t, "45s", formatSeconds(45))
	assert.Equal(t, "2m 05s", formatSeconds(125))
	assert.Equal(t, "1h 02m 03s", formatSeconds(3723))

	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))

	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "12,345", formatNumber(12345))
}
