package daemon

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runnerr0/readtrail/internal/history"
	"github.com/runnerr0/readtrail/internal/legacy"
	"github.com/runnerr0/readtrail/internal/sampler"
	"github.com/runnerr0/readtrail/internal/storage"
	"github.com/runnerr0/readtrail/internal/view"
)

type OpenSessionRequest struct {
	DocumentKey string `json:"document_key" binding:"required"`
	LibraryID   int64  `json:"library_id"`
	Page        int    `json:"page" binding:"required"`
	PageCount   int    `json:"page_count"`
}

type ChangePageRequest struct {
	Page      int `json:"page" binding:"required"`
	PageCount int `json:"page_count"`
}

type FocusRequest struct {
	Focused *bool `json:"focused" binding:"required"`
}

type VisitRequest struct {
	DocumentKey string `json:"document_key" binding:"required"`
	LibraryID   int64  `json:"library_id"`
	Page        int    `json:"page" binding:"required"`
	// Timestamp in Unix seconds; zero means now.
	Timestamp int64 `json:"ts"`
	Flush     bool  `json:"flush"`
}

type ScanPeriodRequest struct {
	ScanPeriod int `json:"scan_period" binding:"required,min=1"`
}

type objectJSON struct {
	Key       string   `json:"key"`
	LibraryID int64    `json:"library_id"`
	Kind      string   `json:"kind"`
	ParentKey string   `json:"parent_key,omitempty"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Trashed   bool     `json:"trashed"`
}

type sessionJSON struct {
	ID          string `json:"id"`
	LibraryID   int64  `json:"library_id"`
	DocumentKey string `json:"document_key"`
	Page        int    `json:"page"`
	EnteredAt   string `json:"entered_at"`
	Focused     bool   `json:"focused"`
}

func sessionView(sess *sampler.Session) sessionJSON {
	page, entered := sess.Page()
	return sessionJSON{
		ID:          sess.ID(),
		LibraryID:   sess.Ref().LibraryID,
		DocumentKey: sess.Ref().Key,
		Page:        page,
		EnteredAt:   entered.UTC().Format(time.RFC3339),
		Focused:     sess.Focused(),
	}
}

type summaryJSON struct {
	DocumentKey string           `json:"document_key"`
	PageCount   int              `json:"page_count"`
	PerPage     map[string]int64 `json:"per_page"`
	Visits      map[string]int   `json:"visits"`
	Total       int64            `json:"total"`
}

func summaryView(sum history.Summary) summaryJSON {
	out := summaryJSON{
		DocumentKey: sum.DocumentKey,
		PageCount:   sum.PageCount,
		PerPage:     make(map[string]int64, len(sum.PerPage)),
		Visits:      make(map[string]int, len(sum.Visits)),
		Total:       sum.Total,
	}
	for p, d := range sum.PerPage {
		out.PerPage[strconv.Itoa(p)] = d
	}
	for p, n := range sum.Visits {
		out.Visits[strconv.Itoa(p)] = n
	}
	return out
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	var pe *history.ParseError
	switch {
	case errors.Is(err, history.ErrInvalidPage), errors.Is(err, history.ErrInvalidTimestamp), errors.As(err, &pe):
		return http.StatusBadRequest
	case errors.Is(err, sampler.ErrExcluded):
		return http.StatusForbidden
	case errors.Is(err, sampler.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, history.ErrTrackerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) library(id int64) int64 {
	if id == 0 {
		return s.app.Config.Library.ID
	}
	return id
}

func (s *Server) libraryParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("lib"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid library id"})
		return 0, false
	}
	return id, true
}

func (s *Server) libraryQuery(c *gin.Context) (int64, bool) {
	raw := c.Query("library")
	if raw == "" {
		return s.app.Config.Library.ID, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid library id"})
		return 0, false
	}
	return id, true
}

func (s *Server) session(c *gin.Context) (*sampler.Session, bool) {
	sess, ok := s.app.Sampler.Session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	}
	return sess, ok
}

func (s *Server) handleStatus(c *gin.Context) {
	stats, err := s.app.Objects.GetStats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	sessions := s.app.Sampler.Sessions()
	views := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionView(sess))
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     s.version,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"scan_period": int(s.app.Sampler.ScanPeriod().Seconds()),
		"library_id":  s.app.Config.Library.ID,
		"sessions":    views,
		"objects":     stats.TotalObjects,
		"documents":   stats.Documents,
		"notes":       stats.Notes,
		"warnings":    len(s.app.Guard.Warnings()),
	})
}

func (s *Server) handleOpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	ref := history.DocRef{LibraryID: s.library(req.LibraryID), Key: req.DocumentKey}
	sess, err := s.app.Sampler.Open(c.Request.Context(), ref, req.Page, req.PageCount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionView(sess))
}

func (s *Server) handleChangePage(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req ChangePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if req.PageCount > 0 {
		if err := sess.ObservePageCount(ctx, req.PageCount); err != nil {
			s.fail(c, err)
			return
		}
	}
	if err := sess.ChangePage(ctx, req.Page); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

func (s *Server) handleFocus(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if err := sess.SetFocus(*req.Focused); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

func (s *Server) handleCloseSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := sess.Close(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sess.ID(), "closed": true})
}

func (s *Server) handleVisit(c *gin.Context) {
	var req VisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	ctx := c.Request.Context()
	ref := history.DocRef{LibraryID: s.library(req.LibraryID), Key: req.DocumentKey}
	if err := s.app.Tracker.RecordVisit(ctx, ref, req.Page, ts); err != nil {
		s.fail(c, err)
		return
	}
	if req.Flush {
		if err := s.app.Tracker.Flush(ctx, ref); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"document_key": req.DocumentKey, "page": req.Page, "ts": ts})
}

func (s *Server) handleTree(c *gin.Context) {
	lib, ok := s.libraryParam(c)
	if !ok {
		return
	}
	loc, err := time.LoadLocation(c.DefaultQuery("tz", "UTC"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time zone", "details": err.Error()})
		return
	}
	tree, err := s.app.Tree(c.Request.Context(), lib, view.WithLocation(loc))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (s *Server) handleLibrarySummary(c *gin.Context) {
	lib, ok := s.libraryParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	store, err := s.app.Registry.Library(c.Request.Context(), lib)
	if err != nil {
		s.fail(c, err)
		return
	}
	sum, err := store.LibrarySummary(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleDocumentSummary(c *gin.Context) {
	lib, ok := s.libraryQuery(c)
	if !ok {
		return
	}
	sum, found, err := s.app.Summary(c.Request.Context(), lib, c.Param("key"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no history for document"})
		return
	}
	c.JSON(http.StatusOK, summaryView(sum))
}

func (s *Server) handleClearHistory(c *gin.Context) {
	lib, ok := s.libraryQuery(c)
	if !ok {
		return
	}
	ref := history.DocRef{LibraryID: lib, Key: c.Param("key")}
	if err := s.app.Tracker.Clear(c.Request.Context(), ref); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_key": ref.Key, "cleared": true})
}

func (s *Server) handleImport(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body", "details": err.Error()})
		return
	}
	exp, err := legacy.Parse("request", data)
	if err != nil {
		s.fail(c, err)
		return
	}
	report, err := s.app.Importer.Import(c.Request.Context(), exp, nil)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"library_id": exp.LibraryID,
		"imported":   report.Imported,
		"missing":    report.Missing,
		"malformed":  report.Malformed,
	})
}

func (s *Server) handleWarnings(c *gin.Context) {
	warnings := s.app.Guard.Warnings()
	out := make([]gin.H, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, gin.H{
			"note_key":     w.NoteKey,
			"document_key": w.DocumentKey,
			"version":      w.Version,
			"at":           w.At.Format(time.RFC3339),
			"message":      w.Error(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"warnings": out, "count": len(out)})
}

func (s *Server) handleSearch(c *gin.Context) {
	lib, ok := s.libraryQuery(c)
	if !ok {
		return
	}
	kind, err := storage.ParseKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	objs, err := s.app.Search(c.Request.Context(), storage.SearchQuery{
		LibraryID:      lib,
		Kind:           kind,
		ParentKey:      c.Query("parent"),
		Text:           c.Query("q"),
		IncludeTrashed: c.Query("trashed") == "true",
		Limit:          limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]objectJSON, 0, len(objs))
	for _, o := range objs {
		tags := o.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, objectJSON{
			Key:       o.Key,
			LibraryID: o.LibraryID,
			Kind:      string(o.Kind),
			ParentKey: o.ParentKey,
			Title:     o.Title,
			Tags:      tags,
			Trashed:   o.Deleted,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": out, "count": len(out)})
}

func (s *Server) handleSetScanPeriod(c *gin.Context) {
	var req ScanPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	opts := s.app.SetScanPeriod(req.ScanPeriod)
	c.JSON(http.StatusOK, gin.H{
		"scan_period": int(s.app.Sampler.ScanPeriod().Seconds()),
		"tolerance":   opts.Tolerance,
		"dwell_floor": opts.DwellFloor,
	})
}
