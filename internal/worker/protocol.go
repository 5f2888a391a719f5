// Package worker runs event compression off the recording path. A background
// task owns the compressor; the Channel talks to it only through request and
// response messages correlated by id and method.
package worker

import (
	"errors"
	"fmt"
)

// Method names a worker operation.
type Method string

const (
	MethodInit     Method = "init"
	MethodClear    Method = "clear"
	MethodAddEvent Method = "addEvent"
	MethodFinish   Method = "finish"
)

// Request is posted to the worker.
type Request struct {
	ID     int    `json:"id"`
	Method Method `json:"method"`
	Arg    string `json:"arg,omitempty"`
}

// Response is posted back by the worker. Response holds the method result on
// success; Error holds the failure message otherwise.
type Response struct {
	ID       int    `json:"id"`
	Method   Method `json:"method"`
	Success  bool   `json:"success"`
	Response []byte `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

var (
	// ErrTerminated is returned for requests that cannot complete because the
	// worker has been terminated.
	ErrTerminated = errors.New("compression worker terminated")
	// ErrReadyTimeout is returned by EnsureReady when the worker never reports in.
	ErrReadyTimeout = errors.New("compression worker readiness timed out")
)

// Error is a failure reported by the worker for a specific request.
type Error struct {
	Method  Method
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("compression worker %s failed: %s", e.Method, e.Message)
}

// Port is the message transport between the Channel and a worker task.
// Implementations must close the Messages channel once the task has exited.
type Port interface {
	Post(req Request) error
	Messages() <-chan Response
	Terminate()
}
