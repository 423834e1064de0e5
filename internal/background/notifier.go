package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

var (
	// ErrDispatcherStopped is logged when a notification arrives after Stop
	ErrDispatcherStopped = errors.New("notification dispatcher stopped")
	// ErrQueueFull is logged when a notification finds no room in the queue
	ErrQueueFull = errors.New("notification queue full")
)

// Sender delivers a single notification
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// DispatcherConfig controls queueing and retry
type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	RetryBaseDelay time.Duration // doubled after every failed attempt
	SendTimeout    time.Duration
}

// NotificationDispatcher queues notifications and delivers them off the request path.
// Delivery is at-least-once with bounded retries; failures are only logged.
type NotificationDispatcher struct {
	sender Sender
	config DispatcherConfig
	logger *slog.Logger

	queue chan models.Notification
	wg    sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	workCtx    context.Context
	cancelWork context.CancelFunc
}

// NewNotificationDispatcher creates a dispatcher. Call Start before Notify.
func NewNotificationDispatcher(sender Sender, config DispatcherConfig, logger *slog.Logger) *NotificationDispatcher {
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}

	return &NotificationDispatcher{
		sender: sender,
		config: config,
		logger: logger,
		queue:  make(chan models.Notification, config.QueueSize),
	}
}

// Start launches the delivery workers. Cancelling ctx aborts pending retries.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.workCtx, d.cancelWork = context.WithCancel(ctx)

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Notify enqueues n without blocking. A full queue drops n with a warning;
// the issued token stays valid and the user can ask for a resend. A cancelled
// ctx does not drop n, the token it carries is already stored.
func (d *NotificationDispatcher) Notify(ctx context.Context, n models.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.deferred(n, ErrDispatcherStopped)
		return
	}
	select {
	case d.queue <- n:
	default:
		d.deferred(n, ErrQueueFull)
	}
}

// Stop refuses new notifications and waits for the queue to drain.
// If ctx expires first, in-flight retries are abandoned.
func (d *NotificationDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelWork()
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancelWork()
		<-done
		d.logger.Warn("notification dispatcher stopped before queue drained")
		return ctx.Err()
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *NotificationDispatcher) deliver(n models.Notification) {
	delay := d.config.RetryBaseDelay

	var err error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(d.workCtx, d.config.SendTimeout)
		err = d.sender.Send(sendCtx, n)
		cancel()
		if err == nil {
			return
		}

		d.logger.Warn("notification attempt failed",
			slog.String("email", pkglogger.SanitizedEmail(n.ContactAddress)),
			slog.String("template", n.TemplateID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		if attempt == d.config.MaxAttempts || !d.wait(delay) {
			break
		}
		delay *= 2
	}

	d.deferred(n, err)
}

// wait sleeps for delay unless work is cancelled first
func (d *NotificationDispatcher) wait(delay time.Duration) bool {
	if delay <= 0 {
		return d.workCtx.Err() == nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-d.workCtx.Done():
		return false
	}
}

func (d *NotificationDispatcher) deferred(n models.Notification, err error) {
	d.logger.Warn("notification delivery deferred",
		slog.String("email", pkglogger.SanitizedEmail(n.ContactAddress)),
		slog.String("template", n.TemplateID),
		slog.Any("error", err))
}
