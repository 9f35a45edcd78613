// Package result provides an explicit success/failure container used by the
// orchestration core instead of sentinel errors threaded through ad-hoc
// signatures. Control flow through retries stays inspectable: a Result is
// either a value or an error, never both.
package result

// Result holds exactly one of a value or an error.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

func Success[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

func Failure[T any](err error) Result[T] {
	return Result[T]{err: err}
}

func (r Result[T]) IsSuccess() bool {
	return r.ok
}

func (r Result[T]) IsFailure() bool {
	return !r.ok
}

// Value returns the success value and whether it is present.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ok
}

// Err returns the failure error, nil on success.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	return r.err
}

// MustValue returns the value. It panics on a failure; reserve it for tests
// and paths that already checked IsSuccess.
func (r Result[T]) MustValue() T {
	if !r.ok {
		panic("result: MustValue called on failure: " + r.err.Error())
	}
	return r.value
}

func (r Result[T]) GetOrElse(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Fold reduces the result to a single value through one of the two branches.
func Fold[T, U any](r Result[T], onSuccess func(T) U, onFailure func(error) U) U {
	if r.ok {
		return onSuccess(r.value)
	}
	return onFailure(r.err)
}

// Map transforms the success value. A failure propagates unchanged and f is
// never invoked on the error path.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if !r.ok {
		return Failure[U](r.err)
	}
	return Success(f(r.value))
}

// FlatMap chains a result-producing transformation over the success value.
func FlatMap[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if !r.ok {
		return Failure[U](r.err)
	}
	return f(r.value)
}

// OnSuccess invokes hook with the value when successful. Panics inside the
// hook are swallowed; observation must not corrupt the result.
func (r Result[T]) OnSuccess(hook func(T)) Result[T] {
	if r.ok {
		func() {
			defer func() { _ = recover() }()
			hook(r.value)
		}()
	}
	return r
}

// OnFailure invokes hook with the error when failed, with the same
// panic-swallowing guarantee as OnSuccess.
func (r Result[T]) OnFailure(hook func(error)) Result[T] {
	if !r.ok {
		func() {
			defer func() { _ = recover() }()
			hook(r.err)
		}()
	}
	return r
}
