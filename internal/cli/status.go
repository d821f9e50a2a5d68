package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/readtrail/internal/app"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string       `json:"version"`
	DatabasePath      string       `json:"database_path"`
	DatabaseSizeBytes int64        `json:"database_size_bytes"`
	LibraryID         int64        `json:"library_id"`
	LibraryName       string       `json:"library_name"`
	Documents         int64        `json:"documents"`
	HistoryNotes      int          `json:"history_notes"`
	Trashed           int64        `json:"trashed"`
	ReadingSeconds    int64        `json:"reading_seconds"`
	ScanPeriod        int          `json:"scan_period"`
	Tolerance         int64        `json:"tolerance"`
	ExcludedTags      []string     `json:"excluded_tags"`
	DaemonAddr        string       `json:"daemon_addr"`
	DaemonRunning     bool         `json:"daemon_running"`
	RecentRepairs     []repairJSON `json:"recent_repairs"`
}

// repairJSON is one audit log row written by the guard.
type repairJSON struct {
	Action    string `json:"action"`
	ObjectKey string `json:"object_key"`
	Detail    string `json:"detail"`
	At        string `json:"at"`
}

// recentRepairs is how many audit rows status shows.
const recentRepairs = 5

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp runs status against an opened app (for testing).
func (c *StatusCommand) executeWithApp(ctx context.Context, a *app.App) error {
	stats, err := a.Objects.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	lib := a.Config.Library.ID
	store, err := a.Registry.Library(ctx, lib)
	if err != nil {
		return err
	}
	summary, err := store.LibrarySummary(ctx, 0)
	if err != nil {
		return err
	}
	name, err := a.Objects.LibraryName(ctx, lib)
	if err != nil {
		return err
	}
	if name == "" {
		name = fmt.Sprintf("Library %d", lib)
	}

	audit, err := a.Objects.RecentAudit(ctx, recentRepairs)
	if err != nil {
		return err
	}
	repairs := make([]repairJSON, 0, len(audit))
	for _, e := range audit {
		repairs = append(repairs, repairJSON{
			Action:    e.Action,
			ObjectKey: e.ObjectKey,
			Detail:    e.Detail,
			At:        e.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	addr := net.JoinHostPort(a.Config.Daemon.Host, strconv.Itoa(a.Config.Daemon.Port))
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      a.DBPath,
		DatabaseSizeBytes: getDatabaseSize(a.DB, a.DBPath),
		LibraryID:         lib,
		LibraryName:       name,
		Documents:         stats.Documents,
		HistoryNotes:      store.Len(),
		Trashed:           stats.Trashed,
		ReadingSeconds:    summary.Total,
		ScanPeriod:        int(a.Sampler.ScanPeriod() / time.Second),
		Tolerance:         a.Registry.Options().Tolerance,
		ExcludedTags:      append([]string{}, a.Config.Tracking.ExcludedTags...),
		DaemonAddr:        addr,
		DaemonRunning:     checkDaemon(addr),
		RecentRepairs:     repairs,
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}
	return c.printStatusHuman(out)
}

func (c *StatusCommand) printStatusHuman(s statusJSON) error {
	fmt.Println("Readtrail Status")
	fmt.Println("================")
	fmt.Printf("Version:       %s\n", s.Version)
	fmt.Printf("Database:      %s (%s)\n", s.DatabasePath, formatBytes(s.DatabaseSizeBytes))
	fmt.Printf("Library:       %s (%d)\n", s.LibraryName, s.LibraryID)
	fmt.Printf("Documents:     %s\n", formatNumber(s.Documents))
	fmt.Printf("Tracked:       %s\n", formatNumber(int64(s.HistoryNotes)))
	fmt.Printf("Trashed:       %s\n", formatNumber(s.Trashed))
	fmt.Printf("Reading time:  %s\n", formatSeconds(s.ReadingSeconds))

	fmt.Println()
	fmt.Printf("Scan period:   %ds (tolerance %ds)\n", s.ScanPeriod, s.Tolerance)
	if len(s.ExcludedTags) > 0 {
		fmt.Printf("Excluded tags: %s\n", strings.Join(s.ExcludedTags, ", "))
	} else {
		fmt.Println("Excluded tags: none")
	}

	if len(s.RecentRepairs) > 0 {
		fmt.Println()
		fmt.Println("Recent repairs:")
		for _, r := range s.RecentRepairs {
			fmt.Printf("  %s  %-15s %s\n", r.At, r.Action, r.ObjectKey)
		}
	}

	fmt.Println()
	if s.DaemonRunning {
		fmt.Printf("Daemon:        running (%s)\n", s.DaemonAddr)
	} else {
		fmt.Printf("Daemon:        not running (%s)\n", s.DaemonAddr)
	}
	return nil
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// checkDaemon attempts an HTTP GET to the daemon status endpoint.
// Returns true if the daemon responds within 1 second.
func checkDaemon(addr string) bool {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
