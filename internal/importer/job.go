// Package importer replaces the record store contents with the rows of the
// published CSV sheet.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/thatapp/transition-houses/internal/house"
	"github.com/thatapp/transition-houses/internal/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	defaultMaxBody = 10 << 20
)

var (
	// ErrRunning is returned by Run when another run of the same job is in progress.
	ErrRunning = errors.New("import already running")
	// ErrTooLarge is wrapped in a FetchError when the sheet exceeds the body limit.
	ErrTooLarge = errors.New("csv document too large")
)

// FetchError means the CSV could not be retrieved. The store is untouched.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Archiver keeps a copy of each fetched document before the store is wiped.
type Archiver interface {
	Archive(ctx context.Context, data []byte) (key string, err error)
}

// Result reports the outcome of one run.
type Result struct {
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

// Job fetches the sheet and rewrites the store. Runs of one Job never overlap.
type Job struct {
	url      string
	store    house.Store
	client   *http.Client
	archiver Archiver
	logger   *slog.Logger
	maxBody  int64
	mu       sync.Mutex
}

// Option configures a Job.
type Option func(*Job)

// WithHTTPClient sets the client used to fetch the CSV.
func WithHTTPClient(c *http.Client) Option {
	return func(j *Job) { j.client = c }
}

// WithArchiver stores each fetched document before the wipe.
func WithArchiver(a Archiver) Option {
	return func(j *Job) { j.archiver = a }
}

// WithMaxBodyBytes caps the size of the fetched document. A larger document
// fails the run before anything is deleted.
func WithMaxBodyBytes(n int64) Option {
	return func(j *Job) { j.maxBody = n }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// NewJob creates an import job for the CSV published at url.
func NewJob(url string, store house.Store, opts ...Option) *Job {
	j := &Job{
		url:    url,
		store:  store,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
		maxBody: defaultMaxBody,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run fetches and parses the CSV, then deletes every record and inserts
// one record per parsed row. Nothing is deleted unless fetch and parse
// succeed. Row-level failures are counted in Result.Failed; the returned
// error is reserved for failures of the run as a whole. If ctx ends after
// the wipe, Run stops inserting and returns the partial Result with the
// context error.
func (j *Job) Run(ctx context.Context) (Result, error) {
	if !j.mu.TryLock() {
		metrics.ImportRuns.WithLabelValues(metrics.OutcomeBusy).Inc()
		return Result{}, ErrRunning
	}
	defer j.mu.Unlock()

	start := time.Now()
	defer func() { metrics.ImportDuration.Observe(time.Since(start).Seconds()) }()

	data, err := j.fetch(ctx)
	if err != nil {
		metrics.ImportRuns.WithLabelValues(metrics.OutcomeFetchError).Inc()
		return Result{}, err
	}

	doc, err := parseCSV(data)
	if err != nil {
		metrics.ImportRuns.WithLabelValues(metrics.OutcomeFetchError).Inc()
		return Result{}, &FetchError{URL: j.url, Err: err}
	}

	var res Result
	for _, pe := range doc.errors {
		j.logger.Warn("skipping malformed row", "line", pe.Line, "error", pe.Err)
		res.Failed++
	}

	if j.archiver != nil {
		key, err := j.archiver.Archive(ctx, data)
		if err != nil {
			j.logger.Error("archiving import", "error", err)
		} else {
			res.ArchiveKey = key
		}
	}

	if err := j.store.ResetAll(ctx); err != nil {
		metrics.ImportRuns.WithLabelValues(metrics.OutcomeStoreError).Inc()
		return res, fmt.Errorf("resetting houses: %w", err)
	}

	for i, in := range doc.rows {
		if err := ctx.Err(); err != nil {
			return res, j.interrupted(res, len(doc.rows), err)
		}
		if _, err := j.store.InsertOne(ctx, in); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, j.interrupted(res, len(doc.rows), ctxErr)
			}
			j.logger.Warn("inserting row", "row", i+1, "program", in.Program, "error", err)
			res.Failed++
			continue
		}
		res.Succeeded++
	}

	metrics.ImportRuns.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.ImportRows.WithLabelValues("succeeded").Add(float64(res.Succeeded))
	metrics.ImportRows.WithLabelValues("failed").Add(float64(res.Failed))

	j.logger.Info("import finished",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return res, nil
}

func (j *Job) interrupted(res Result, total int, err error) error {
	metrics.ImportRuns.WithLabelValues(metrics.OutcomeCancelled).Inc()
	metrics.ImportRows.WithLabelValues("succeeded").Add(float64(res.Succeeded))
	j.logger.Error("import interrupted", "inserted", res.Succeeded, "rows", total, "error", err)
	return fmt.Errorf("import interrupted after %d of %d rows: %w", res.Succeeded, total, err)
}

// RunEvery runs the job each interval until ctx is done. Failed runs are
// logged and retried at the next tick.
func (j *Job) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				if errors.Is(err, ErrRunning) {
					j.logger.Info("scheduled import skipped, previous run still active")
					continue
				}
				j.logger.Error("scheduled import failed", "error", err)
			}
		}
	}
}

func (j *Job) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return nil, &FetchError{URL: j.url, Err: err}
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: j.url, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			j.logger.Warn("closing csv response", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: j.url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, j.maxBody+1))
	if err != nil {
		return nil, &FetchError{URL: j.url, Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(data)) > j.maxBody {
		return nil, &FetchError{URL: j.url, Err: fmt.Errorf("%w: over %d bytes", ErrTooLarge, j.maxBody)}
	}

	return data, nil
}
