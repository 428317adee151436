package handlers

import (
	"bytes"
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/3leaps/simstat/internal/errors"
	"github.com/3leaps/simstat/pkg/crawler"
	"github.com/3leaps/simstat/pkg/jobstate"
	"github.com/3leaps/simstat/pkg/output"
)

// ScanFunc runs one scan.
type ScanFunc func(ctx context.Context) (*crawler.JobSet, error)

// snapshot is one cached scan result. It is never modified after it is
// stored.
type snapshot struct {
	scanID string
	set    *crawler.JobSet
	at     time.Time
}

// JobsCache serves the latest scan and rescans at most once per TTL.
// Concurrent requests for a stale snapshot share one scan.
type JobsCache struct {
	scan ScanFunc
	ttl  time.Duration
	now  func() time.Time

	scanMu sync.Mutex

	mu   sync.RWMutex
	last *snapshot
}

// NewJobsCache returns a cache around scan. A zero TTL rescans on every
// request.
func NewJobsCache(scan ScanFunc, ttl time.Duration) *JobsCache {
	return &JobsCache{scan: scan, ttl: ttl, now: time.Now}
}

func (c *JobsCache) current() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *JobsCache) fresh(s *snapshot) bool {
	return s != nil && c.ttl > 0 && c.now().Sub(s.at) < c.ttl
}

// get returns a snapshot no older than the TTL, scanning if needed. force
// skips the freshness check. The scan is detached from ctx cancellation so a
// disconnecting client does not discard work other requests are waiting on.
// A failed scan leaves the previous snapshot in place.
func (c *JobsCache) get(ctx context.Context, force bool) (*snapshot, error) {
	seen := c.current()
	if !force && c.fresh(seen) {
		return seen, nil
	}

	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	// Another caller may have scanned while we waited.
	if s := c.current(); s != seen || (!force && c.fresh(s)) {
		return s, nil
	}

	set, err := c.scan(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	s := &snapshot{scanID: uuid.New().String(), set: set, at: c.now()}
	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
	return s, nil
}

// Refresh forces a scan. On failure the previous snapshot is kept.
func (c *JobsCache) Refresh(ctx context.Context) error {
	_, err := c.get(ctx, true)
	return err
}

// Snapshot returns the latest scan without triggering one.
func (c *JobsCache) Snapshot() *crawler.JobSet {
	if s := c.current(); s != nil {
		return s.set
	}
	return nil
}

// JobsHandler serves scan results.
type JobsHandler struct {
	cache    *JobsCache
	includes []string
	excludes []string
}

// NewJobsHandler serves results from cache. includes and excludes are
// echoed in the summary.
func NewJobsHandler(cache *JobsCache, includes, excludes []string) *JobsHandler {
	return &JobsHandler{cache: cache, includes: includes, excludes: excludes}
}

// Routes mounts the handler's endpoints on r.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.List)
	r.Get("/jobs/{job}", h.Get)
	r.Get("/diagnostics", h.Diagnostics)
}

// List returns every record.
//
// Query parameters: format (json, jsonl, table; default json), sort (name,
// remaining, code, percent), reverse, status (repeatable), group.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format := output.FormatJSON
	if raw := q.Get("format"); raw != "" {
		f, err := output.ParseFormat(raw)
		if err != nil {
			respondWithError(w, r, apperrors.NewBadRequest(err.Error()))
			return
		}
		format = f
	}

	cmp, ok := jobstate.ComparatorFor(q.Get("sort"))
	if !ok {
		respondWithError(w, r, apperrors.NewBadRequest("unknown sort key "+strconv.Quote(q.Get("sort"))))
		return
	}
	if reverse, _ := strconv.ParseBool(q.Get("reverse")); reverse {
		cmp = jobstate.Reverse(cmp)
	}

	statuses := make(map[jobstate.Status]bool)
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				statuses[jobstate.Status(s)] = true
			}
		}
	}
	group := q.Get("group")

	snap, err := h.cache.get(r.Context(), false)
	if err != nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("scan failed").
			WithDetails(map[string]any{"reason": err.Error()}))
		return
	}

	// Work on a copy; the cached set is shared.
	view := *snap.set
	view.Records = slices.DeleteFunc(slices.Clone(snap.set.Records), func(rec jobstate.Record) bool {
		if len(statuses) > 0 && !statuses[rec.Status] {
			return true
		}
		return group != "" && rec.Group != group
	})
	view.Sort(cmp)

	var buf bytes.Buffer
	err = output.Render(r.Context(), &buf, format, output.Snapshot{
		ScanID:   snap.scanID,
		Set:      &view,
		Includes: h.includes,
		Excludes: h.excludes,
	})
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "render failed"))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Scan-ID", snap.scanID)
	w.Header().Set("Last-Modified", snap.at.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Get returns the record for one job name. When names repeat across
// groups, the group query parameter selects one.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")
	group := r.URL.Query().Get("group")

	snap, err := h.cache.get(r.Context(), false)
	if err != nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("scan failed").
			WithDetails(map[string]any{"reason": err.Error()}))
		return
	}

	var matches []jobstate.Record
	for _, rec := range snap.set.Records {
		if rec.JobName == name && (group == "" || rec.Group == group) {
			matches = append(matches, rec)
		}
	}

	switch len(matches) {
	case 0:
		respondWithError(w, r, apperrors.NewNotFound("no job named "+strconv.Quote(name)))
	case 1:
		apperrors.WriteJSON(w, http.StatusOK, output.NewJobRecord(matches[0]))
	default:
		groups := make([]string, len(matches))
		for i, m := range matches {
			groups[i] = m.Group
		}
		respondWithError(w, r, apperrors.NewBadRequest("job name is ambiguous; pass group").
			WithDetails(map[string]any{"groups": groups}))
	}
}

// Diagnostics returns the diagnostics of the latest scan.
func (h *JobsHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cache.get(r.Context(), false)
	if err != nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("scan failed").
			WithDetails(map[string]any{"reason": err.Error()}))
		return
	}
	diags := snap.set.Diagnostics
	if diags == nil {
		diags = []crawler.Diagnostic{}
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"scan_id":     snap.scanID,
		"diagnostics": diags,
	})
}
