package docstore

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrStoreClosed is returned by async calls submitted after Close.
var ErrStoreClosed = errors.New("docstore: store closed")

// Future holds the eventual result of a non-blocking call. It resolves
// exactly once, with either a result or a propagated failure.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Await blocks until the future resolves or ctx is done. Abandoning a
// future only discards interest in its result; the dispatched
// operation still runs to completion.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// workerPool is a fixed pool of goroutines serving the non-blocking
// call forms. A fixed pool avoids spawning a goroutine per call under
// load while keeping the blocking implementations the single source of
// behavior.
//
// submit holds the read lock across the enqueue, so once Close holds
// the write lock no further task can reach the queue: every accepted
// task is in workCh before stopCh closes and is drained by a worker.
type workerPool struct {
	workCh chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func newWorkerPool(numWorkers int) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	wp := &workerPool{
		workCh: make(chan func(), numWorkers*2),
		stopCh: make(chan struct{}),
	}
	wp.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go wp.worker()
	}
	return wp
}

func (wp *workerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.stopCh:
			// Drain queued work before exiting so accepted futures
			// still resolve.
			for {
				select {
				case task := <-wp.workCh:
					task()
				default:
					return
				}
			}
		case task := <-wp.workCh:
			task()
		}
	}
}

func (wp *workerPool) submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return ErrStoreClosed
	}
	select {
	case wp.workCh <- task:
		return nil
	case <-wp.stopCh:
		return ErrStoreClosed
	}
}

// Close stops the pool after draining accepted work.
func (wp *workerPool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	wp.mu.Unlock()
	close(wp.stopCh)
	wp.wg.Wait()
}

// offload runs fn on the pool and resolves the returned future with
// its outcome. The operation runs under a context detached from the
// caller's cancellation: once dispatched, backend work is not aborted
// by the caller losing interest.
func offload[T any](s *Store, ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	opCtx := context.WithoutCancel(ctx)
	if err := s.pool.submit(func() {
		f.resolve(fn(opCtx))
	}); err != nil {
		var zero T
		f.resolve(zero, err)
	}
	return f
}

// GetAsync is the non-blocking form of Get.
func (s *Store) GetAsync(ctx context.Context, ns Namespace, key string, refreshTTL bool) *Future[*Record] {
	return offload(s, ctx, func(ctx context.Context) (*Record, error) {
		return s.Get(ctx, ns, key, refreshTTL)
	})
}

// PutAsync is the non-blocking form of Put.
func (s *Store) PutAsync(ctx context.Context, ns Namespace, key string, value Value, index IndexOption, ttl TTL) *Future[struct{}] {
	return offload(s, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Put(ctx, ns, key, value, index, ttl)
	})
}

// DeleteAsync is the non-blocking form of Delete.
func (s *Store) DeleteAsync(ctx context.Context, ns Namespace, key string) *Future[struct{}] {
	return offload(s, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Delete(ctx, ns, key)
	})
}

// SearchAsync is the non-blocking form of Search.
func (s *Store) SearchAsync(ctx context.Context, prefix Namespace, req SearchRequest) *Future[[]SearchResult] {
	return offload(s, ctx, func(ctx context.Context) ([]SearchResult, error) {
		return s.Search(ctx, prefix, req)
	})
}

// ListNamespacesAsync is the non-blocking form of ListNamespaces.
func (s *Store) ListNamespacesAsync(ctx context.Context, req ListNamespacesRequest) *Future[[]Namespace] {
	return offload(s, ctx, func(ctx context.Context) ([]Namespace, error) {
		return s.ListNamespaces(ctx, req)
	})
}

// BatchAsync is the non-blocking form of Batch.
func (s *Store) BatchAsync(ctx context.Context, ops []Op) *Future[[]any] {
	return offload(s, ctx, func(ctx context.Context) ([]any, error) {
		return s.Batch(ctx, ops)
	})
}
