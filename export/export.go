// Package export implements the export job engine (C9): a single-writer
// exporter that materializes an arbitrarily large result set to a
// compressed file under bounded worker concurrency, with disk-pressure
// eviction and a retention reaper. Grounded on the teacher's bounded
// worker pool shape (asyncwork) generalized to stateful, trackable jobs,
// and on its keyed-concurrency primitive (middleware/concurrency.go),
// re-derived here as the fixed-capacity Semaphore gating concurrent jobs.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/solix/warehouse-gateway/compiler"
	"github.com/solix/warehouse-gateway/config"
	"github.com/solix/warehouse-gateway/gwerr"
	"github.com/solix/warehouse-gateway/queryspec"
	"github.com/solix/warehouse-gateway/store"
	"github.com/solix/warehouse-gateway/warehouse"
)

const (
	exportChunkTimeout  = 10 * time.Minute
	persistRetries      = 3
	persistBackoffBase  = 2 * time.Second
	persistTTL          = 7 * 24 * time.Hour
	evictionTargetRatio = 0.8
)

// Status is an export job's lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Format is the requested export file format.
type Format string

const (
	FormatCSV     Format = "CSV"
	FormatJSONL   Format = "JSONL"
	FormatParquet Format = "PARQUET"
)

// Config describes what to export.
type Config struct {
	Spec   *queryspec.RequestSpec
	Format Format
}

// Job is a durable export job record.
type Job struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Config      Config     `json:"config"`
	Progress    int        `json:"progress"`
	RowCount    int64      `json:"rowCount"`
	FileSize    int64      `json:"fileSize"`
	FilePath    string     `json:"filePath,omitempty"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// queryStreamer is the subset of warehouse.Pool the export engine needs.
type queryStreamer interface {
	QueryStream(ctx context.Context, sql string, params map[string]interface{}, timeout time.Duration, emit func(warehouse.Row) error) error
}

// Engine runs submit/process/status/reaper for export jobs.
type Engine struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   queryStreamer
	store  store.Store
	sem    *Semaphore

	mu   sync.Mutex
	jobs map[string]*Job

	stopReaper chan struct{}
}

// New builds an export Engine.
func New(cfg *config.Config, logger zerolog.Logger, pool queryStreamer, st store.Store) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger.With().Str("component", "export").Logger(),
		pool:       pool,
		store:      st,
		sem:        NewSemaphore(cfg.ExportWorkers),
		jobs:       make(map[string]*Job),
		stopReaper: make(chan struct{}),
	}
}

// Submit validates disk pressure, assigns a job id, persists the record
// with retry, and dispatches processing under the worker semaphore (§4.9).
func (e *Engine) Submit(ctx context.Context, cfg Config) (*Job, error) {
	if cfg.Format != FormatCSV && cfg.Format != FormatJSONL && cfg.Format != FormatParquet {
		return nil, gwerr.Newf(gwerr.KindExportJobCreation, "unknown export format %q", cfg.Format)
	}

	if err := e.checkDiskPressure(ctx); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.persistWithBackoff(ctx, job); err != nil {
		return nil, gwerr.Wrap(gwerr.KindExportJobCreation, "failed to enqueue export job", err)
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	e.mu.Unlock()

	e.dispatch(job)
	return job, nil
}

// checkDiskPressure enforces minFreeSpaceGB and triggers FIFO eviction
// when the export root exceeds maxTotalSizeGB.
func (e *Engine) checkDiskPressure(ctx context.Context) error {
	if err := os.MkdirAll(e.cfg.ExportDir, 0o755); err != nil {
		return gwerr.Wrap(gwerr.KindExportJobCreation, "export directory unavailable", err)
	}

	usage, err := disk.UsageWithContext(ctx, e.cfg.ExportDir)
	if err != nil {
		return gwerr.Wrap(gwerr.KindExportJobCreation, "failed to check disk usage", err)
	}
	freeGB := int(usage.Free / (1 << 30))
	if freeGB < e.cfg.ExportMinFreeSpaceGB {
		return gwerr.Newf(gwerr.KindExportJobCreation, "insufficient disk space: %d GB free, need %d GB", freeGB, e.cfg.ExportMinFreeSpaceGB)
	}

	total, err := dirSize(e.cfg.ExportDir)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to compute export directory size")
		return nil
	}
	maxBytes := int64(e.cfg.ExportMaxTotalSizeGB) << 30
	if total > maxBytes {
		e.evictFIFO(int64(float64(maxBytes) * evictionTargetRatio))
	}
	return nil
}

// persistWithBackoff writes the job record to the durable store, retrying
// with exponential backoff (base 2s, 3 attempts) on failure.
func (e *Engine) persistWithBackoff(ctx context.Context, job *Job) error {
	var lastErr error
	for attempt := 0; attempt < persistRetries; attempt++ {
		if err := e.persist(ctx, job); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(persistBackoffBase * time.Duration(1<<uint(attempt)))
	}
	return lastErr
}

func (e *Engine) persist(ctx context.Context, job *Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return e.store.SetEX(ctx, jobKey(job.ID), string(b), persistTTL)
}

func jobKey(id string) string { return "export:job:" + id }

// dispatch launches the job under the bounded worker semaphore.
func (e *Engine) dispatch(job *Job) {
	go func() {
		ctx := context.Background()
		if err := e.sem.Acquire(ctx); err != nil {
			return
		}
		defer e.sem.Release()
		e.process(ctx, job)
	}()
}

// process streams the compiled query in chunks to a compressed file,
// advancing offset until a short chunk signals exhaustion (§4.9 step 4).
func (e *Engine) process(ctx context.Context, job *Job) {
	e.updateStatus(ctx, job, StatusProcessing, "")

	dir := filepath.Join(e.cfg.ExportDir, job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.fail(ctx, job, err)
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("export.%s.gz", formatExt(job.Config.Format)))
	f, err := os.Create(path)
	if err != nil {
		e.fail(ctx, job, err)
		return
	}

	gz := gzip.NewWriter(f)
	writer, err := newRowWriter(job.Config.Format, gz)
	if err != nil {
		gz.Close()
		f.Close()
		e.fail(ctx, job, err)
		return
	}

	var rowCount int64
	chunkSize := e.cfg.ExportChunkSize
	if chunkSize <= 0 {
		chunkSize = 50000
	}
	offset := 0

	for {
		compiled, err := compiler.CompileForExport(job.Config.Spec, chunkSize, offset)
		if err != nil {
			gz.Close()
			f.Close()
			e.fail(ctx, job, err)
			return
		}

		n := 0
		streamErr := e.pool.QueryStream(ctx, compiled.SQL, compiled.Params, exportChunkTimeout, func(row warehouse.Row) error {
			n++
			rowCount++
			return writer.Write(row)
		})
		if streamErr != nil {
			gz.Close()
			f.Close()
			e.fail(ctx, job, streamErr)
			return
		}

		offset += chunkSize
		e.updateProgress(ctx, job, rowCount, chunkSize)

		if n < chunkSize {
			break
		}
	}

	if err := writer.Close(); err != nil {
		gz.Close()
		f.Close()
		e.fail(ctx, job, err)
		return
	}
	if err := gz.Close(); err != nil {
		f.Close()
		e.fail(ctx, job, err)
		return
	}
	if err := f.Close(); err != nil {
		e.fail(ctx, job, err)
		return
	}

	fi, err := os.Stat(path)
	if err != nil {
		e.fail(ctx, job, err)
		return
	}

	now := time.Now()
	e.mu.Lock()
	job.RowCount = rowCount
	job.FileSize = fi.Size()
	job.FilePath = path
	job.Status = StatusCompleted
	job.Progress = 100
	job.CompletedAt = &now
	job.UpdatedAt = now
	e.mu.Unlock()

	if err := e.persist(ctx, job); err != nil {
		e.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to persist completed export job")
	}
}

// updateProgress sets an ever-increasing, never-complete progress estimate:
// the true total row count is unknown until the last (short) chunk
// arrives, so progress approaches but never reaches 100 until then.
func (e *Engine) updateProgress(ctx context.Context, job *Job, rowCount int64, chunkSize int) {
	e.mu.Lock()
	pct := int(float64(rowCount) / float64(rowCount+int64(chunkSize)) * 100)
	if pct > 99 {
		pct = 99
	}
	job.Progress = pct
	job.UpdatedAt = time.Now()
	e.mu.Unlock()
}

func (e *Engine) updateStatus(ctx context.Context, job *Job, status Status, errMsg string) {
	e.mu.Lock()
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = time.Now()
	e.mu.Unlock()
	if err := e.persist(ctx, job); err != nil {
		e.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to persist export job status")
	}
}

func (e *Engine) fail(ctx context.Context, job *Job, cause error) {
	e.logger.Error().Err(cause).Str("jobId", job.ID).Msg("export job failed")
	e.mu.Lock()
	job.Status = StatusFailed
	job.Error = cause.Error()
	job.UpdatedAt = time.Now()
	e.mu.Unlock()
	if err := e.persist(ctx, job); err != nil {
		e.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to persist failed export job")
	}
}

// Status returns the current known state of a job.
func (e *Engine) Status(id string) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[id]
	return job, ok
}

// DownloadURL returns an opaque reference the transport layer signs and
// verifies; the export engine itself performs no authentication.
func (e *Engine) DownloadURL(id, filename string) string {
	return fmt.Sprintf("/v1/export/%s/download/%s", id, filename)
}

// StartReaper launches the hourly retention sweep; call Stop to end it.
func (e *Engine) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopReaper:
				return
			case <-ticker.C:
				e.reap()
			}
		}
	}()
}

// Stop ends the reaper goroutine.
func (e *Engine) Stop() {
	close(e.stopReaper)
}

// reap removes job directories past their retention window: completed
// jobs after expirationHours, failed jobs after 7 days (§3 lifetimes).
func (e *Engine) reap() {
	entries, err := os.ReadDir(e.cfg.ExportDir)
	if err != nil {
		return
	}
	now := time.Now()
	retention := time.Duration(e.cfg.ExportExpirationHours) * time.Hour

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		limit := retention
		e.mu.Lock()
		if job, ok := e.jobs[entry.Name()]; ok && job.Status == StatusFailed {
			limit = e.cfg.ExportFailedRetention
		}
		e.mu.Unlock()

		if now.Sub(info.ModTime()) > limit {
			path := filepath.Join(e.cfg.ExportDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				e.logger.Warn().Err(err).Str("path", path).Msg("reaper failed to remove expired export")
				continue
			}
			e.mu.Lock()
			delete(e.jobs, entry.Name())
			e.mu.Unlock()
		}
	}
}

// evictFIFO deletes the oldest files under the export root until total
// size drops below target (§4.9).
func (e *Engine) evictFIFO(target int64) {
	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []fileInfo
	var total int64

	_ = filepath.Walk(e.cfg.ExportDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, fileInfo{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files {
		if total < target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			continue
		}
		total -= f.size
	}
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func formatExt(f Format) string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatParquet:
		return "parquet"
	default:
		return "csv"
	}
}
