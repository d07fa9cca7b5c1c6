package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
)

// Status is the lifecycle state of a batch operation.
type Status int

const (
	StatusPending Status = iota
	StatusResolving
	StatusRunning
	StatusCompleted
	StatusFailed
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusResolving: "resolving",
	StatusRunning:   "running",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the operation has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Outcome attributes a failure to a single object of a batch.
type Outcome struct {
	Object string `json:"object"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// Operation tracks one batch action from acceptance to its terminal
// state. Per-object failures accumulate as outcomes and leave the
// operation completed; the operation itself fails only when it could
// not run its candidate set to the end.
type Operation struct {
	id     string
	action api.Action
	bucket string

	processed atomic.Int64

	mu       sync.Mutex
	status   Status
	total    int
	failures []Outcome
	err      error
	started  time.Time
	finished time.Time

	doneCh chan struct{}
}

func newOperation(action api.Action, bucket string) *Operation {
	return &Operation{
		id:      uuid.NewString(),
		action:  action,
		bucket:  bucket,
		status:  StatusPending,
		started: time.Now(),
		doneCh:  make(chan struct{}),
	}
}

// ID returns the operation handle identifier.
func (o *Operation) ID() string { return o.id }

// Status returns the current lifecycle state.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err returns the operation-level error, nil unless the status is
// failed. Per-object failures are reported through Info, not here.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Wait blocks until the operation reaches a terminal state or ctx is
// done, whichever comes first. The operation keeps running either way.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.doneCh:
		return o.Err()
	}
}

func (o *Operation) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Operation) setTotal(n int) {
	o.mu.Lock()
	o.total = n
	o.mu.Unlock()
}

// record attributes a per-object failure without failing the batch.
func (o *Operation) record(object string, err error) {
	o.mu.Lock()
	o.failures = append(o.failures, Outcome{
		Object: object,
		Code:   apierr.CodeOf(err).String(),
		Error:  err.Error(),
	})
	o.mu.Unlock()
}

// finish moves the operation to its terminal state and releases
// waiters. Called exactly once, by the operation's runner.
func (o *Operation) finish(err error) {
	o.mu.Lock()
	o.err = err
	if err != nil {
		o.status = StatusFailed
	} else {
		o.status = StatusCompleted
	}
	o.finished = time.Now()
	o.mu.Unlock()
	close(o.doneCh)
}

// OperationInfo is the queryable snapshot of an operation. Finished is
// the zero time while the operation is still running.
type OperationInfo struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Bucket    string    `json:"bucket"`
	Status    string    `json:"status"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Objects   int       `json:"objects"`
	Processed int64     `json:"processed"`
	Failures  []Outcome `json:"failures,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Info snapshots the operation for status queries.
func (o *Operation) Info() OperationInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	info := OperationInfo{
		ID:        o.id,
		Action:    o.action.String(),
		Bucket:    o.bucket,
		Status:    o.status.String(),
		Started:   o.started,
		Finished:  o.finished,
		Objects:   o.total,
		Processed: o.processed.Load(),
	}
	if len(o.failures) > 0 {
		info.Failures = append([]Outcome(nil), o.failures...)
	}
	if o.err != nil {
		info.Error = o.err.Error()
	}
	return info
}
