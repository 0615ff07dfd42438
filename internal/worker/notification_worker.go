package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tribuna/internal/domain"
	"tribuna/internal/metrics"
	"tribuna/internal/models"
	"tribuna/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskStore is the durable notification_queue table.
type TaskStore interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	ClaimNotificationTask(ctx context.Context, id int64, lease time.Duration) (bool, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Options tune the worker loop. Zero values take defaults.
type Options struct {
	Retry         RetryPolicy
	QueueKey      string
	PollInterval  time.Duration
	BatchSize     int
	Lease         time.Duration
	LocalCapacity int
}

// NotificationWorker persists every notification first, then hands its id to redis or an
// in-memory channel for fast pickup. Polling the table catches whatever those paths miss,
// and the claim lease keeps a task from being sent twice.
type NotificationWorker struct {
	store         TaskStore
	sender        domain.NotificationSender
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan int64
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	lease         time.Duration
	logger        *zerolog.Logger
}

func NewNotificationWorker(store TaskStore, sender domain.NotificationSender, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *NotificationWorker {
	retry := opts.Retry
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.QueueKey == "" {
		opts.QueueKey = "tribuna:notifications"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 20
	}
	if opts.Lease == 0 {
		opts.Lease = time.Minute
	}
	if opts.LocalCapacity == 0 {
		opts.LocalCapacity = models.WorkerQueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "notification_worker").Logger()

	return &NotificationWorker{
		store:         store,
		sender:        sender,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan int64, opts.LocalCapacity),
		redisQueueKey: opts.QueueKey,
		deadLetterKey: opts.QueueKey + ":deadletter",
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		lease:         opts.Lease,
		logger:        &l,
	}
}

// Enqueue persists the notification and schedules it via redis or the in-memory queue.
func (w *NotificationWorker) Enqueue(ctx context.Context, n *models.Notification) error {
	if n == nil || n.Kind == "" {
		return errors.New("notification kind is required")
	}
	if n.UserID == 0 {
		return errors.New("notification user is required")
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	task := models.NotificationTask{
		Kind:      n.Kind,
		UserID:    n.UserID,
		BookingID: n.BookingID,
		Payload:   string(payload),
		Status:    models.TaskPending,
	}
	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.redis.LPush(ctx, w.redisQueueKey, task.ID).Err(); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task.ID:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Str("channel", w.sender.Name()).Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if id, ok := w.tryLocalQueue(); ok {
			w.processByID(ctx, id)
			continue
		}

		if id, ok := w.tryRedis(ctx); ok {
			w.processByID(ctx, id)
			continue
		}

		if n := w.RunOnce(ctx); n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case id := <-w.queue:
			w.processByID(ctx, id)
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce processes one batch of due tasks from the table and returns how many it handled.
func (w *NotificationWorker) RunOnce(ctx context.Context) int {
	tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("fetch pending notifications")
		}
		return 0
	}
	handled := 0
	for i := range tasks {
		if w.processTask(ctx, &tasks[i]) {
			handled++
		}
	}
	return handled
}

func (w *NotificationWorker) tryLocalQueue() (int64, bool) {
	select {
	case id := <-w.queue:
		return id, true
	default:
		return 0, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (int64, bool) {
	if w.redis == nil {
		return 0, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("redis BRPOP error")
		}
		return 0, false
	}
	if len(res) != 2 {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscan(res[1], &id); err != nil {
		w.logger.Warn().Str("value", res[1]).Msg("decode redis task id")
		return 0, false
	}
	return id, true
}

// processByID handles a task announced through a queue. The table row is the source of truth,
// so the id is only a hint to run a poll now.
func (w *NotificationWorker) processByID(ctx context.Context, id int64) {
	tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", id).Msg("fetch announced notification")
		return
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
}

// processTask claims and sends one task. It returns false when another consumer owns it.
func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) bool {
	claimed, err := w.store.ClaimNotificationTask(ctx, task.ID, w.lease)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("claim notification")
		return false
	}
	if !claimed {
		return false
	}

	var n models.Notification
	if err := json.Unmarshal([]byte(task.Payload), &n); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return true
	}

	if err := w.sender.Send(ctx, &n); err != nil {
		if errors.Is(err, notify.ErrPermanent) {
			w.failTask(ctx, task, err)
			return true
		}
		w.retryOrFail(ctx, task, err)
		return true
	}

	metrics.IncNotification(w.sender.Name(), "sent")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	return true
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncNotification(w.sender.Name(), "retry")
	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("notification delivery failed, will retry")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	metrics.IncNotification(w.sender.Name(), "failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Int64("user_id", task.UserID).Msg("notification dropped")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
