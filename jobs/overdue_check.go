package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/utv-amats/amats/internal/assignments"
	jobmetrics "github.com/utv-amats/amats/internal/jobs"
	"github.com/utv-amats/amats/internal/notifications"
)

const (
	// TaskOverdueCheck scans for overdue assignments and queues reminders.
	TaskOverdueCheck = "assignments:overdue"
)

// NewOverdueCheckTask constructs an Asynq task for the overdue check.
func NewOverdueCheckTask() *asynq.Task {
	return asynq.NewTask(TaskOverdueCheck, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// OverdueSource lists open assignments past due.
type OverdueSource interface {
	OverdueScan(ctx context.Context) ([]assignments.Assignment, error)
}

// MailEnqueuer queues an email for delivery.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// Notifier stores an in-app notification.
type Notifier interface {
	Notify(ctx context.Context, n notifications.Notification) (notifications.Notification, error)
}

// OverdueCheckJob emails and notifies holders and issuers of overdue
// assignments.
type OverdueCheckJob struct {
	Source   OverdueSource
	Mail     MailEnqueuer
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewOverdueCheckJob wires the overdue check handler.
func NewOverdueCheckJob(source OverdueSource, mail MailEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueCheckJob {
	return &OverdueCheckJob{
		Source:  source,
		Mail:    mail,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs the check. Holders without an email address are logged and
// skipped for mail but still get an in-app notification.
func (j *OverdueCheckJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil {
		return errors.New("overdue check: handler not configured")
	}
	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskOverdueCheck)
	defer func() { err = tracker.End(err) }()
	logger := loggerFor(j.Logger, TaskOverdueCheck)

	overdue, err := j.Source.OverdueScan(ctx)
	if err != nil {
		logger.Error("list overdue", slog.Any("error", err))
		return err
	}
	metrics.SetOverdue(len(overdue))

	now := j.now()
	queued, notified := 0, 0
	for _, a := range overdue {
		for _, msg := range reminders(a, now) {
			if msg.To == "" {
				logger.Warn("overdue reminder without address", slog.Int64("assignment_id", a.ID))
				continue
			}
			if j.Mail == nil {
				continue
			}
			if _, err := j.Mail.EnqueueSendEmail(ctx, msg); err != nil {
				return fmt.Errorf("enqueue reminder for assignment %d: %w", a.ID, err)
			}
			queued++
		}
		if j.Notifier == nil {
			continue
		}
		for _, n := range alerts(a, now) {
			if _, err := j.Notifier.Notify(ctx, n); err != nil {
				return fmt.Errorf("notify for assignment %d: %w", a.ID, err)
			}
			notified++
		}
	}
	logger.Info("overdue check completed", slog.Int("overdue", len(overdue)),
		slog.Int("queued", queued), slog.Int("notified", notified))
	return nil
}

func alerts(a assignments.Assignment, now time.Time) []notifications.Notification {
	link := fmt.Sprintf("/assignments/%d", a.ID)
	days := a.DaysOverdue(now)
	out := []notifications.Notification{{
		UserID:  a.HolderID,
		Message: fmt.Sprintf("%s (%s) is %d day(s) overdue. Please return it.", a.AssetName, a.AssetTag, days),
		Link:    link,
		Level:   notifications.LevelWarning,
	}}
	if a.IssuedBy != nil && *a.IssuedBy != a.HolderID {
		out = append(out, notifications.Notification{
			UserID:  *a.IssuedBy,
			Message: fmt.Sprintf("%s (%s) issued to %s is %d day(s) overdue.", a.AssetName, a.AssetTag, a.HolderName, days),
			Link:    link,
			Level:   notifications.LevelAlert,
		})
	}
	return out
}

func reminders(a assignments.Assignment, now time.Time) []SendEmailPayload {
	due := ""
	if a.DueAt != nil {
		due = a.DueAt.UTC().Format("2006-01-02 15:04 MST")
	}
	days := a.DaysOverdue(now)
	out := []SendEmailPayload{{
		To:      a.HolderEmail,
		Subject: fmt.Sprintf("Overdue: %s %s", a.AssetTag, a.AssetName),
		Body: fmt.Sprintf("Hello %s,\n\n%s (%s) was due back on %s and is %d day(s) overdue.\nPlease return it to the equipment store.\n",
			a.HolderName, a.AssetName, a.AssetTag, due, days),
	}}
	if a.IssuedByEmail != "" && a.IssuedByEmail != a.HolderEmail {
		out = append(out, SendEmailPayload{
			To:      a.IssuedByEmail,
			Subject: fmt.Sprintf("Overdue: %s held by %s", a.AssetTag, a.HolderName),
			Body: fmt.Sprintf("%s (%s) issued to %s was due back on %s and is %d day(s) overdue.\n",
				a.AssetName, a.AssetTag, a.HolderName, due, days),
		})
	}
	return out
}

func (j *OverdueCheckJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
