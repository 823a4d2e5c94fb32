package batch

import (
	"context"
	"sync"
)

// WorkerPool runs tasks in parallel on a fixed number of workers
type WorkerPool struct {
	workers int
}

// NewWorkerPool creates a pool of workers goroutines; workers < 1 means 1
func NewWorkerPool(workers int) *WorkerPool {
	return &WorkerPool{workers: max(workers, 1)}
}

// Task represents a unit of work for the worker pool
type Task[T any] struct {
	ID   string
	Func func(ctx context.Context) (T, error)
}

// Result represents the result of a task execution
type Result[T any] struct {
	ID    string
	Data  T
	Error error
}

// Execute runs tasks and returns one result per task, in task order. A
// failing task never stops its siblings. Tasks not run because ctx ended
// carry ctx.Err().
func Execute[T any](ctx context.Context, wp *WorkerPool, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	done := make([]bool, len(tasks))
	taskChan := make(chan int, len(tasks))

	// Start workers
	var wg sync.WaitGroup
	for range min(wp.workers, len(tasks)) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case i, ok := <-taskChan:
					if !ok {
						return
					}

					if ctx.Err() != nil {
						return
					}

					data, err := tasks[i].Func(ctx)
					results[i] = Result[T]{ID: tasks[i].ID, Data: data, Error: err}
					done[i] = true

				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for i := range tasks {
		taskChan <- i
	}

	close(taskChan)
	wg.Wait()

	for i, ok := range done {
		if !ok {
			results[i] = Result[T]{ID: tasks[i].ID, Error: ctx.Err()}
		}
	}

	return results
}
