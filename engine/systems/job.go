package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/sonar/engine/core"
)

/**
 * @brief A unit of work for the job system. OnComplete or OnFailure runs on
 * the worker after Run returns.
 */
type JobTask struct {
	Name       string
	Run        func() error
	OnComplete func()
	OnFailure  func(err error)
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system already shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				if err := job.Run(); err != nil {
					core.LogError("job %s failed: %s", job.Name, err)
					if job.OnFailure != nil {
						job.OnFailure(err)
					}
					continue
				}
				if job.OnComplete != nil {
					job.OnComplete()
				}
			}
		}()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while the
 * queue is full.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- jt
	return nil
}

/**
 * @brief Runs every function as a job and waits for all of them.
 *
 * @return The errors of the failed jobs joined together, nil if all succeeded.
 */
func (js *JobSystem) RunAll(name string, fns []func() error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	wg.Add(len(fns))
	for i, fn := range fns {
		err := js.Submit(JobTask{
			Name:       fmt.Sprintf("%s[%d]", name, i),
			Run:        fn,
			OnComplete: wg.Done,
			OnFailure: func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				wg.Done()
			},
		})
		if err != nil {
			// The remaining jobs were never queued.
			wg.Add(-(len(fns) - i))
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
