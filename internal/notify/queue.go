// Package notify — внешние уведомления (Telegram, Kafka) вне пути запроса.
// Мутация тикета только ставит задачу в очередь; доставку выполняют воркеры, ошибки лишь логируются.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobTimeout — лимит на одну задачу доставки.
const JobTimeout = 5 * time.Second

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "helpdesk_notify_jobs_total",
	Help: "Задачи внешних уведомлений по результату.",
}, []string{"job", "result"})

type Job func(ctx context.Context) error

type task struct {
	name string
	run  Job
}

// Queue — ограниченная очередь с фиксированным числом воркеров.
type Queue struct {
	tasks   chan task
	workers int
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(workers, size int, log *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &Queue{
		tasks:   make(chan task, size),
		workers: workers,
		timeout: JobTimeout,
		log:     log.With("component", "notify_queue"),
	}
}

// Start запускает воркеров. ctx — родитель для задач; его отмена прерывает выполняемые задачи.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue не блокирует: при заполненной очереди задача отбрасывается.
func (q *Queue) Enqueue(name string, job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		jobsTotal.WithLabelValues(name, "dropped").Inc()
		return false
	}
	select {
	case q.tasks <- task{name: name, run: job}:
		return true
	default:
		jobsTotal.WithLabelValues(name, "dropped").Inc()
		q.log.Warn("notify queue full, job dropped", "job", name)
		return false
	}
}

// Stop перестаёт принимать задачи и ждёт, пока воркеры доделают уже поставленные.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(ctx, t)
	}
}

func (q *Queue) run(parent context.Context, t task) {
	ctx, cancel := context.WithTimeout(parent, q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			jobsTotal.WithLabelValues(t.name, "error").Inc()
			q.log.Error("notify job panicked", "job", t.name, "panic", r)
		}
	}()
	if err := t.run(ctx); err != nil {
		jobsTotal.WithLabelValues(t.name, "error").Inc()
		q.log.Warn("notify job failed", "job", t.name, "error", err)
		return
	}
	jobsTotal.WithLabelValues(t.name, "ok").Inc()
}
