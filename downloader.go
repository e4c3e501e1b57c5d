package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	documentSuffix = ".pdf"
	tmpSuffix      = ".tmp"
)

var errMoveFailed = errors.New("cannot move temp file into place")

// Downloader archives report documents one at a time with a random pause
// between requests.
type Downloader struct {
	fetcher  *Fetcher
	logger   *zap.Logger
	metrics  *crawlMetrics
	manifest *Manifest
	labels   map[Market]string
	minSize  int64
	delayMin time.Duration
	delayMax time.Duration
	verify   bool

	// Progress is called after every task and around every wait.
	Progress ProgressFunc

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64 // uniform in [0, 1)
}

func NewDownloader(cfg Config, f *Fetcher, logger *zap.Logger, m *crawlMetrics, manifest *Manifest) *Downloader {
	return &Downloader{
		fetcher:  f,
		logger:   logger,
		metrics:  m,
		manifest: manifest,
		labels:   cfg.MarketLabels(),
		minSize:  cfg.MinFileSize,
		delayMin: seconds(cfg.Delay.MinSeconds),
		delayMax: seconds(cfg.Delay.MaxSeconds),
		verify:   cfg.VerifyPDF,
		sleep:    sleepContext,
		jitter:   rand.Float64,
	}
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run downloads every entry into <baseDir>/<label>/<code>/. Files already on
// disk count as successes without a request. concurrency is accepted for
// compatibility and clamped to 1 so the pauses stay meaningful.
func (d *Downloader) Run(ctx context.Context, entries []ReportEntry, baseDir string, concurrency int) DownloadOutcome {
	if concurrency > 1 {
		d.logger.Warn("downloads are sequential, ignoring concurrency", zap.Int("requested", concurrency))
	}

	var out DownloadOutcome
	total := len(entries)

	// ---- filtering ----
	var tasks []DownloadTask
	for _, e := range entries {
		task, err := d.taskFor(e, baseDir)
		if err != nil {
			d.logger.Error("cannot plan download", zap.String("code", e.StockCode), zap.String("title", e.Title), zap.Error(err))
			out.Failed++
			d.metrics.download("failed", 0)
			continue
		}
		if fileExists(filepath.Join(task.Dir, task.Filename)) {
			out.Succeeded++
			d.metrics.download("skipped", 0)
			d.Progress.report(out.Succeeded+out.Failed, total, "%s - %s already archived", e.StockCode, e.Title)
			continue
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		d.Progress.report(total, total, "nothing to download")
		return out
	}

	// ---- draining ----
	for i, t := range tasks {
		if i > 0 {
			if err := d.wait(ctx, out, total); err != nil {
				d.abandon(&out, tasks[i:], err)
				break
			}
		} else if err := ctx.Err(); err != nil {
			d.abandon(&out, tasks, err)
			break
		}

		size, err := d.runTask(context.WithoutCancel(ctx), t)
		if err != nil {
			out.Failed++
			d.metrics.download("failed", 0)
			d.logger.Error("download failed",
				zap.String("code", t.StockCode),
				zap.String("title", t.Title),
				zap.String("url", t.DocumentURL),
				zap.Error(err))
			d.Progress.report(out.Succeeded+out.Failed, total, "failed: %s - %s", t.StockCode, t.Title)
			continue
		}
		out.Succeeded++
		d.metrics.download("downloaded", size)
		d.logger.Info("downloaded",
			zap.String("code", t.StockCode),
			zap.String("file", t.Filename),
			zap.Int64("bytes", size))
		d.Progress.report(out.Succeeded+out.Failed, total, "done: %s - %s", t.StockCode, t.Title)
	}
	return out
}

func (d *Downloader) taskFor(e ReportEntry, baseDir string) (DownloadTask, error) {
	if e.DocumentURL == "" {
		return DownloadTask{}, ErrNoDocumentLink
	}
	label := d.labels[e.Market]
	if label == "" {
		label = string(e.Market)
	}
	return DownloadTask{
		Market:      e.Market,
		StockCode:   e.StockCode,
		Title:       e.Title,
		Filename:    SanitizeFilename(e.Title, "report_"+e.StockCode) + documentSuffix,
		DocumentURL: e.DocumentURL,
		Dir:         archiveDir(baseDir, label, e.StockCode),
	}, nil
}

func (d *Downloader) wait(ctx context.Context, out DownloadOutcome, total int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := d.delayMin
	if span := d.delayMax - d.delayMin; span > 0 {
		delay += time.Duration(d.jitter() * float64(span))
	}
	done := out.Succeeded + out.Failed
	d.Progress.report(done, total, "waiting %.1fs before next download", delay.Seconds())
	if err := d.sleep(ctx, delay); err != nil {
		return err
	}
	d.metrics.wait(delay.Seconds())
	d.Progress.report(done, total, "resuming downloads")
	return nil
}

// abandon counts tasks that never started because the run was cancelled.
func (d *Downloader) abandon(out *DownloadOutcome, rest []DownloadTask, cause error) {
	d.logger.Warn("download run cancelled", zap.Int("remaining", len(rest)), zap.Error(cause))
	out.Failed += len(rest)
	for range rest {
		d.metrics.download("failed", 0)
	}
}

// runTask streams one document to a temp file and moves it into place. The
// temp file is removed on every failure except a failed move, where it is
// the only copy left.
func (d *Downloader) runTask(ctx context.Context, t DownloadTask) (size int64, err error) {
	final := filepath.Join(t.Dir, t.Filename)
	tmp := final + tmpSuffix
	keepTmp := false

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil && !keepTmp {
			_ = os.Remove(tmp)
		}
	}()

	if fileExists(final) {
		st, _ := os.Stat(final)
		return st.Size(), nil
	}
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return 0, err
	}

	resp, err := d.fetcher.Stream(ctx, t.DocumentURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errUnexpectedStatus(resp.StatusCode)
	}

	size, err = writeFile(tmp, resp.Body)
	if err != nil {
		return 0, err
	}
	if size < d.minSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooSmall, size)
	}
	if d.verify {
		if err := verifyPDF(tmp); err != nil {
			return 0, err
		}
	}
	if err := moveFile(tmp, final); err != nil {
		keepTmp = true
		return 0, fmt.Errorf("%w (left at %s): %v", errMoveFailed, tmp, err)
	}

	if err := d.manifest.Append(ManifestRecord{
		Market:      t.Market,
		StockCode:   t.StockCode,
		Title:       t.Title,
		DocumentURL: t.DocumentURL,
		Path:        final,
		Size:        size,
	}); err != nil {
		d.logger.Warn("manifest append failed", zap.String("file", final), zap.Error(err))
	}
	return size, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
