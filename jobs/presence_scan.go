package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/utv-amats/amats/internal/jobs"
	"github.com/utv-amats/amats/internal/presence"
	"github.com/utv-amats/amats/internal/shared"
)

const (
	// TaskPresenceScan runs one presence reconciliation pass.
	TaskPresenceScan = "presence:scan"
)

// PresenceScanPayload overrides the configured subnet and sweep timeout.
type PresenceScanPayload struct {
	Subnet         string `json:"subnet,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// NewPresenceScanTask constructs an Asynq task for a presence pass. A
// duplicate enqueued within ten minutes is rejected.
func NewPresenceScanTask(payload PresenceScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPresenceScan, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Unique(10*time.Minute)), nil
}

// Scanner runs a presence pass on behalf of actor.
type Scanner interface {
	RunScan(ctx context.Context, actor shared.Actor, req presence.ScanRequest) (presence.Report, error)
}

// PresenceScanJob runs scheduled presence passes as the system actor.
type PresenceScanJob struct {
	Scanner Scanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPresenceScanJob wires the presence scan handler.
func NewPresenceScanJob(scanner Scanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PresenceScanJob {
	return &PresenceScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes one pass. Scan collaborator failures are retried by the
// queue, storage failures too.
func (j *PresenceScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Scanner == nil {
		return errors.New("presence scan: handler not configured")
	}
	var payload PresenceScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode scan payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskPresenceScan)
	defer func() { err = tracker.End(err) }()

	logger := loggerFor(j.Logger, TaskPresenceScan)
	req := presence.ScanRequest{Subnet: payload.Subnet, Timeout: time.Duration(payload.TimeoutSeconds) * time.Second}
	report, err := j.Scanner.RunScan(ctx, shared.SystemActor("scheduler"), req)
	if err != nil {
		if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrUnauthorized) {
			logger.Error("presence scan rejected", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("presence scan failed", slog.Any("error", err))
		return err
	}
	logger.Info("presence scan completed",
		slog.String("run_id", report.RunID),
		slog.Int("responded", report.Responded),
		slog.Int("missing", len(report.Missing)),
		slog.Int("reacquired", len(report.Reacquired)),
	)
	return nil
}
