package api

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"devflow/domain"
)

type enqueueJob struct {
	userID string
	cmds   []domain.Command
	added  []domain.Command // claimed in the deduper, released if the enqueue fails
}

const (
	minWorkers      = 32
	maxWorkers      = 192
	workersPerQueue = 4
	workersPerCPU   = 24
	bufferPerWorker = 128

	defaultInlineTimeout = 60 * time.Second
)

// errEnqueueBusy is returned when a user's lane stays full past the handoff
// timeout. Enqueueing such a job inline would overtake the jobs already
// waiting in the lane.
var errEnqueueBusy = errors.New("command queue busy")

var (
	once           sync.Once
	lanes          []chan enqueueJob
	workerCount    int
	jobBuf         int
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	bg             = context.Background()
	globalStore    CommandStore
	globalDeduper  Deduper
	globalLog      *log.Logger
	workerWG       sync.WaitGroup
)

// CommandStore is the part of the store the command workers need.
type CommandStore interface {
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// computeWorkerDefaults sizes the worker pool from the storage queue
// concurrency and the CPU count. Each worker gets bufferPerWorker slots.
// buffer is the total across all lanes.
func computeWorkerDefaults(queueConcurrency, cpu int) (workers, buffer int) {
	workers = max(queueConcurrency*workersPerQueue, cpu*workersPerCPU, minWorkers)
	workers = min(workers, maxWorkers)
	return workers, workers * bufferPerWorker
}

// shutdownCommandSender stops worker goroutines and clears shared state. It is intended for tests.
func shutdownCommandSender() {
	for _, ch := range lanes {
		close(ch)
	}
	lanes = nil

	workerWG.Wait()

	globalStore = nil
	globalDeduper = nil
	globalLog = nil
	workerCount = 0
	jobBuf = 0
	enqueueTimeout = 0
	handoffTimeout = 0
	once = sync.Once{}
	workerWG = sync.WaitGroup{}
}

func initCommandSender(store CommandStore, deduper Deduper, log *log.Logger) {
	once.Do(func() {
		globalStore = store
		globalDeduper = deduper
		if log == nil {
			panic("Logger is not initialized")
		}
		globalLog = log

		defWorkers, defBuf := computeWorkerDefaults(envInt("STORAGE_QUEUE_CONCURRENCY", 0), runtime.NumCPU())
		workerCount = envInt("ENQUEUE_WORKERS", defWorkers)
		jobBuf = envInt("ENQUEUE_BUFFER", defBuf)
		enqueueTimeout = envDur("ENQUEUE_TIMEOUT", 60*time.Second)
		handoffTimeout = envDur("ENQUEUE_HANDOFF_TIMEOUT", 15*time.Millisecond)

		if workerCount < 1 {
			workerCount = 1
		}
		perLane := max(jobBuf/workerCount, 1)
		lanes = make([]chan enqueueJob, workerCount)
		for i := range lanes {
			lanes[i] = make(chan enqueueJob, perLane)
			workerWG.Add(1)
			go worker(i, lanes[i])
		}
		globalLog.Infof("command sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workerCount, jobBuf, enqueueTimeout, handoffTimeout)
	})
}

func worker(id int, jobCh <-chan enqueueJob) {
	defer workerWG.Done()
	for j := range jobCh {
		ctx, cancel := context.WithTimeout(bg, enqueueTimeout)
		err := globalStore.EnqueueCommands(ctx, j.userID, j.cmds)
		cancel()

		if err != nil {
			releaseClaims(globalDeduper, j.userID, j.added, globalLog)
			globalLog.Errorf("enqueue failed, err: %v, user: %s, count: %d, worker: %d", err, j.userID, len(j.cmds), id)
		}
	}
}

func releaseClaims(deduper Deduper, userID string, cmds []domain.Command, logger *log.Logger) {
	if deduper == nil {
		return
	}
	for _, cmd := range cmds {
		if rerr := deduper.Release(bg, userID, cmd); rerr != nil && logger != nil {
			logger.Errorf("dedupe rollback failed, err : %v, key: %s, entity: %s/%s, user: %s", rerr, cmd.IdempotencyKey, cmd.EntityType, cmd.EntityID, userID)
		}
	}
}

// laneFor pins a user to one worker so that user's batches reach the queue
// in the order they were accepted.
func laneFor(userID string, n int) int {
	return int(xxhash.Sum64String(userID) % uint64(n))
}

func poolRunning() bool { return len(lanes) > 0 }

// tryEnqueueJob hands job to the worker owning the job's user.
func tryEnqueueJob(job enqueueJob) bool {
	if !poolRunning() {
		return false
	}
	ch := lanes[laneFor(job.userID, len(lanes))]

	if ok, closed := trySendNonBlocking(ch, job); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(ch, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan enqueueJob, job enqueueJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan enqueueJob, job enqueueJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
