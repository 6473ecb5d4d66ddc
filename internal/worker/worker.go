package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

type WorkerPool struct {
	name      string
	taskQueue chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex // guards sends against close
	isClosing atomic.Bool  // thread-safe value
	dropped   atomic.Uint64
}

func NewWorkerPool(name string, size, queue int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queue < 1 {
		queue = 1000
	}
	wp := &WorkerPool{
		name:      name,
		taskQueue: make(chan Task, queue),
	}

	// Start the workers
	for range size {
		wp.wg.Add(1)
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done() // signal when worker finished
	for task := range wp.taskQueue {
		if err := task(context.Background()); err != nil {
			log.Warn().Err(err).Str("pool", wp.name).Msg("worker task failed")
		}
	}
}

// Submit queues t without blocking. Tasks submitted while the queue is full
// or the pool is shutting down are dropped.
func (wp *WorkerPool) Submit(t Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.isClosing.Load() {
		wp.dropped.Add(1)
		log.Warn().Str("pool", wp.name).Msg("task submitted during shutdown, dropping")
		return false
	}
	select {
	case wp.taskQueue <- t: // send task to worker pool
		return true
	default:
		wp.dropped.Add(1)
		log.Warn().Str("pool", wp.name).Msg("task queue full, dropping task")
		return false
	}
}

// Dropped counts tasks that never ran.
func (wp *WorkerPool) Dropped() uint64 {
	return wp.dropped.Load()
}

// Shutdown closes the queue and waits for workers to finish
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if !wp.isClosing.CompareAndSwap(false, true) {
		wp.mu.Unlock()
		return
	}
	close(wp.taskQueue) // Stop accepting new tasks
	wp.mu.Unlock()
	wp.wg.Wait() // Wait for all active workers to finish tasks
}
