// Package importer bulk-loads synthetic user rows in fixed-size batches over
// a bounded worker pool.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docingest/backend/internal/events"
	"github.com/docingest/backend/internal/ingesterr"
	"github.com/docingest/backend/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const (
	userColumns   = 4
	maxBindParams = 65535
)

// UserWriter commits one batch of rows atomically.
type UserWriter interface {
	InsertUsers(ctx context.Context, rows []models.UserRow) error
}

// Publisher receives import progress events.
type Publisher interface {
	Publish(ev events.Event)
}

// Options describes one import run.
type Options struct {
	TotalRows       int64 `json:"total_rows"`
	BatchSize       int64 `json:"batch_size"`
	Concurrency     int   `json:"concurrency"`
	ContinueOnError bool  `json:"continue_on_error"`
}

// DefaultOptions matches the historical fixed-size import.
func DefaultOptions() Options {
	return Options{
		TotalRows:       10_000_000,
		BatchSize:       10_000,
		Concurrency:     16,
		ContinueOnError: true,
	}
}

// Validate checks the run parameters.
func (o Options) Validate() error {
	if o.TotalRows < 0 {
		return ingesterr.Validation("total_rows", "must not be negative")
	}
	if o.BatchSize <= 0 {
		return ingesterr.Validation("batch_size", "must be positive")
	}
	if o.Concurrency <= 0 {
		return ingesterr.Validation("concurrency", "must be positive")
	}
	if o.BatchSize*userColumns > maxBindParams {
		return ingesterr.Validation("batch_size", fmt.Sprintf("must be at most %d (bind parameter limit)", maxBindParams/userColumns))
	}
	return nil
}

// Config holds engine-wide settings.
type Config struct {
	Password   string        // placeholder password hashed once per run
	BcryptCost int           // 0 uses bcrypt.DefaultCost
	Timeout    time.Duration // 0 disables the run deadline
}

// Engine runs bulk imports.
type Engine struct {
	users    UserWriter
	events   Publisher
	log      *logrus.Entry
	password string
	cost     int
	timeout  time.Duration

	hash func(password []byte, cost int) ([]byte, error)
	now  func() time.Time
}

// NewEngine creates an Engine writing through users.
func NewEngine(users UserWriter, cfg Config, pub Publisher, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Password == "" {
		cfg.Password = "123456"
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Engine{
		users:    users,
		events:   pub,
		log:      logger.WithField("component", "importer"),
		password: cfg.Password,
		cost:     cfg.BcryptCost,
		timeout:  cfg.Timeout,
		hash:     bcrypt.GenerateFromPassword,
		now:      time.Now,
	}
}

// Run imports TotalRows/BatchSize batches. Rows beyond the last full batch
// are not written and are reported as RowsDropped.
//
// In best-effort mode (ContinueOnError) a failing batch is recorded and the
// rest carry on; otherwise the first failure skips every batch not yet
// started and is returned. When the run deadline passes, batches not yet
// started are skipped and a timeout error is returned with the summary.
func (e *Engine) Run(ctx context.Context, opts Options) (*models.ImportSummary, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := e.now()
	totalBatches := opts.TotalRows / opts.BatchSize
	summary := &models.ImportSummary{
		BatchesTotal: totalBatches,
		RowsDropped:  opts.TotalRows % opts.BatchSize,
	}

	log := e.log.WithFields(logrus.Fields{
		"total_rows":  opts.TotalRows,
		"batch_size":  opts.BatchSize,
		"concurrency": opts.Concurrency,
		"batches":     totalBatches,
	})
	log.Info("import started")

	hashed, err := e.hash([]byte(e.password), e.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash placeholder password: %w", err)
	}
	password := string(hashed)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	var (
		mu       sync.Mutex
		firstErr error
	)

	// Batches are described by their index alone; nothing is allocated per
	// batch until it is dispatched.
	for i := int64(0); i < totalBatches; i++ {
		if gctx.Err() != nil {
			break
		}
		job := &models.BatchJob{
			Index:    i,
			Offset:   i * opts.BatchSize,
			RowCount: opts.BatchSize,
			Status:   models.BatchPending,
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := e.runBatch(gctx, job, password)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				job.Status = models.BatchCommitted
				summary.BatchesOK++
				summary.RowsCommitted += job.RowCount
				e.publish(events.TypeImportBatch, job)
				return nil
			}
			if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
				// Cancelled mid-flight by a deadline or an earlier failure.
				return nil
			}

			job.Status = models.BatchFailed
			job.Error = err.Error()
			summary.BatchesFailed++
			summary.Failures = append(summary.Failures, models.BatchFailure{
				Index:  job.Index,
				Offset: job.Offset,
				Reason: job.Error,
			})
			log.WithFields(logrus.Fields{"batch": job.Index, "offset": job.Offset}).WithError(err).Warn("batch failed")
			e.publish(events.TypeImportBatch, job)

			if opts.ContinueOnError {
				return nil
			}
			if firstErr == nil {
				firstErr = err
			}
			return err
		})
	}
	g.Wait()

	summary.BatchesSkipped = totalBatches - summary.BatchesOK - summary.BatchesFailed
	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].Index < summary.Failures[j].Index
	})

	summary.Elapsed = e.now().Sub(start)
	summary.ElapsedSeconds = summary.Elapsed.Seconds()

	log.WithFields(logrus.Fields{
		"ok":      summary.BatchesOK,
		"failed":  summary.BatchesFailed,
		"skipped": summary.BatchesSkipped,
		"elapsed": summary.Elapsed.String(),
	}).Info("import finished")
	e.publishSummary(summary)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && summary.BatchesSkipped > 0 {
		return summary, ingesterr.Timeout(ingesterr.StageImport, "users", ctx.Err())
	}
	if firstErr != nil {
		return summary, firstErr
	}
	if err := ctx.Err(); err != nil && summary.BatchesSkipped > 0 {
		return summary, err
	}
	return summary, nil
}

// runBatch builds and commits one batch. A panic inside the writer is
// converted into a batch failure.
func (e *Engine) runBatch(ctx context.Context, job *models.BatchJob, password string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ingesterr.Batch(job.Index, fmt.Errorf("panic: %v", r))
		}
	}()

	rows := BuildRows(job.Offset, job.RowCount, password)
	if err := e.users.InsertUsers(ctx, rows); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ingesterr.Batch(job.Index, err)
	}
	return nil
}

// BuildRows generates the rows of the batch starting at offset. Row n is
// named User<n> with email user<n>@example.com and id n+1.
func BuildRows(offset, count int64, password string) []models.UserRow {
	rows := make([]models.UserRow, count)
	for i := range rows {
		n := offset + int64(i)
		rows[i] = models.UserRow{
			ID:       n + 1,
			Name:     fmt.Sprintf("User%d", n),
			Email:    fmt.Sprintf("user%d@example.com", n),
			Password: password,
		}
	}
	return rows
}

func (e *Engine) publish(typ string, job *models.BatchJob) {
	if e.events == nil {
		return
	}
	e.events.Publish(events.Event{Type: typ, Subject: fmt.Sprintf("batch %d", job.Index), Payload: *job})
}

func (e *Engine) publishSummary(summary *models.ImportSummary) {
	if e.events == nil {
		return
	}
	e.events.Publish(events.Event{Type: events.TypeImportFinished, Subject: "users", Payload: *summary})
}
