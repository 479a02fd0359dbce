package batch

import (
	"context"
	"sync"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) (interface{}, error)
	ID() string
}

// TaskResult represents the result of a task execution
type TaskResult struct {
	TaskID string
	Index  int
	Result interface{}
	Error  error
}

// TaskQueue runs tasks on a bounded pool of workers. Retries belong to the tasks
// themselves; the queue executes each task exactly once.
type TaskQueue struct {
	tasks      []Task
	results    []*TaskResult
	maxWorkers int
	mu         sync.Mutex
}

// NewTaskQueue creates a new task queue
func NewTaskQueue(maxWorkers int) *TaskQueue {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &TaskQueue{maxWorkers: maxWorkers}
}

// AddTask adds a task to the queue
func (q *TaskQueue) AddTask(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// ProcessAll processes all tasks in the queue and returns the results in the
// order the tasks were added. Tasks not started before ctx is done report ctx.Err().
func (q *TaskQueue) ProcessAll(ctx context.Context) []*TaskResult {
	q.mu.Lock()
	tasks := make([]Task, len(q.tasks))
	copy(tasks, q.tasks)
	q.mu.Unlock()

	results := make([]*TaskResult, len(tasks))
	taskCh := make(chan int)

	workerCount := q.maxWorkers
	if workerCount > len(tasks) {
		workerCount = len(tasks)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskCh {
				task := tasks[idx]
				result, err := task.Execute(ctx)
				results[idx] = &TaskResult{TaskID: task.ID(), Index: idx, Result: result, Error: err}
			}
		}()
	}

dispatch:
	for idx := range tasks {
		select {
		case taskCh <- idx:
		case <-ctx.Done():
			for rest := idx; rest < len(tasks); rest++ {
				results[rest] = &TaskResult{TaskID: tasks[rest].ID(), Index: rest, Error: ctx.Err()}
			}
			break dispatch
		}
	}
	close(taskCh)
	wg.Wait()

	q.mu.Lock()
	q.results = results
	q.mu.Unlock()
	return results
}

// GetResults returns the results of the last ProcessAll call
func (q *TaskQueue) GetResults() []*TaskResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*TaskResult, len(q.results))
	copy(out, q.results)
	return out
}
