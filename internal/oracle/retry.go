package oracle

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

// Request is one decision request. The correlation id stays fixed across
// retries; Attempt counts from 1.
type Request struct {
	CorrelationID string          `json:"correlation_id"`
	Family        social.FamilyID `json:"family"`
	Turn          int             `json:"turn"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	Attempt       int             `json:"attempt"`
	Context       *Context        `json:"-"`
}

// State is a request's position in the retry lifecycle.
type State string

const (
	StateSubmitted State = "submitted"
	StateExecuting State = "executing"
	StateFailed    State = "failed"
	StateScheduled State = "scheduled"
	StateSucceeded State = "succeeded"
	StateExhausted State = "exhausted"
	StateCancelled State = "cancelled"
)

// Status is an observable retry transition.
type Status struct {
	CorrelationID string          `json:"correlation_id"`
	Family        social.FamilyID `json:"family"`
	Turn          int             `json:"turn"`
	Attempt       int             `json:"attempt"`
	State         State           `json:"state"`
	RetryIn       time.Duration   `json:"retry_in,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Result is the resolved outcome of a request after any retries.
type Result struct {
	CorrelationID string
	Raw           string
	Attempts      int
	// Exhausted is set when every attempt failed transiently.
	Exhausted bool
	// Err is a content failure or the cancellation cause.
	Err error
}

// Outcome classifies a single attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTransient
	OutcomeContent
)

var transientSignatures = []string{
	"429", "529", "503",
	"rate limit", "rate_limit", "overloaded", "too many requests", "capacity",
}

// Classify decides whether an attempt succeeded, failed transiently
// (rate limiting, overload, timeout, disconnect) or failed on content.
func Classify(raw string, err error) Outcome {
	if err != nil {
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrDisconnected) ||
			errors.Is(err, context.DeadlineExceeded) {
			return OutcomeTransient
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return OutcomeTransient
		}
		if hasSignature(err.Error()) {
			return OutcomeTransient
		}
		return OutcomeContent
	}
	// An error page delivered as a reply body carries no decision payload.
	if _, perr := ExtractObject(raw); perr != nil && hasSignature(raw) {
		return OutcomeTransient
	}
	return OutcomeOK
}

func hasSignature(s string) bool {
	s = strings.ToLower(s)
	for _, sig := range transientSignatures {
		if strings.Contains(s, sig) {
			return true
		}
	}
	return false
}

// Controller issues decision requests to an Oracle and resubmits the same
// request on transient failure after an escalating delay, up to a fixed
// number of attempts. A new request for a family supersedes any request
// still pending for it.
type Controller struct {
	oracle      Oracle
	maxAttempts int
	delays      []time.Duration
	timeout     time.Duration

	// After returns a channel that fires after d. Replaced in tests.
	After func(d time.Duration) <-chan time.Time
	// OnStatus receives every transition. Must not block.
	OnStatus func(Status)

	mu      sync.Mutex
	pending map[social.FamilyID]*inflight
}

type inflight struct {
	id     string
	cancel context.CancelFunc
}

type reply struct {
	id      string
	attempt int
	raw     string
	err     error
}

// NewController wires an oracle to the retry policy.
func NewController(o Oracle, retry config.Retry, timeout time.Duration) *Controller {
	return &Controller{
		oracle:      o,
		maxAttempts: retry.MaxAttempts,
		delays:      retry.Delays,
		timeout:     timeout,
		After:       time.After,
		pending:     make(map[social.FamilyID]*inflight),
	}
}

// Request resolves req, retrying transient failures. It blocks until the
// request succeeds, fails on content, exhausts its attempts, or is cancelled.
func (c *Controller) Request(ctx context.Context, req *Request) Result {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	req.SubmittedAt = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.register(req.Family, req.CorrelationID, cancel)
	defer c.release(req.Family, req.CorrelationID)

	c.publish(req, StateSubmitted, 0, nil)

	// Buffered so abandoned attempts never block on delivery.
	replies := make(chan reply, c.maxAttempts)
	res := Result{CorrelationID: req.CorrelationID}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		res.Attempts = attempt
		req.Attempt = attempt
		c.publish(req, StateExecuting, 0, nil)

		r, err := c.attempt(ctx, req, replies)
		if err != nil {
			c.publish(req, StateCancelled, 0, err)
			res.Err = err
			return res
		}

		switch Classify(r.raw, r.err) {
		case OutcomeOK:
			c.publish(req, StateSucceeded, 0, nil)
			res.Raw = r.raw
			return res
		case OutcomeContent:
			c.publish(req, StateFailed, 0, r.err)
			res.Raw = r.raw
			res.Err = r.err
			return res
		}

		c.publish(req, StateFailed, 0, transientCause(r))
		if attempt == c.maxAttempts {
			break
		}
		delay := c.delay(attempt)
		slog.Warn("oracle transient failure, retrying",
			"family", req.Family, "attempt", attempt, "retry_in", delay, "err", transientCause(r))
		c.publish(req, StateScheduled, delay, nil)
		select {
		case <-ctx.Done():
			c.publish(req, StateCancelled, 0, ctx.Err())
			res.Err = ctx.Err()
			return res
		case <-c.After(delay):
		}
	}

	slog.Warn("oracle retries exhausted", "family", req.Family, "attempts", res.Attempts)
	c.publish(req, StateExhausted, 0, nil)
	res.Exhausted = true
	return res
}

// attempt runs one oracle call under the per-attempt timeout and waits for
// the reply that matches this exact attempt.
func (c *Controller) attempt(ctx context.Context, req *Request, replies chan reply) (reply, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	snapshot := *req
	go func() {
		raw, err := c.oracle.Decide(actx, &snapshot)
		replies <- reply{id: snapshot.CorrelationID, attempt: snapshot.Attempt, raw: raw, err: err}
	}()

	for {
		select {
		case r := <-replies:
			if r.id != req.CorrelationID || r.attempt != req.Attempt {
				slog.Debug("discarding stale oracle reply", "family", req.Family, "attempt", r.attempt)
				continue
			}
			return r, nil
		case <-actx.Done():
			if ctx.Err() != nil {
				return reply{}, ctx.Err()
			}
			return reply{id: req.CorrelationID, attempt: req.Attempt, err: context.DeadlineExceeded}, nil
		}
	}
}

func (c *Controller) delay(attempt int) time.Duration {
	i := attempt - 1
	if i >= len(c.delays) {
		i = len(c.delays) - 1
	}
	return c.delays[i]
}

// Cancel abandons any request pending for family.
func (c *Controller) Cancel(family social.FamilyID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[family]; ok {
		p.cancel()
		delete(c.pending, family)
	}
}

// Outstanding reports how many requests are in flight.
func (c *Controller) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Controller) register(family social.FamilyID, id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.pending[family]; ok {
		slog.Debug("superseding pending oracle request", "family", family, "old", old.id, "new", id)
		old.cancel()
	}
	c.pending[family] = &inflight{id: id, cancel: cancel}
}

func (c *Controller) release(family social.FamilyID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[family]; ok && p.id == id {
		delete(c.pending, family)
	}
}

func (c *Controller) publish(req *Request, state State, retryIn time.Duration, err error) {
	if c.OnStatus == nil {
		return
	}
	s := Status{
		CorrelationID: req.CorrelationID,
		Family:        req.Family,
		Turn:          req.Turn,
		Attempt:       req.Attempt,
		State:         state,
		RetryIn:       retryIn,
	}
	if err != nil {
		s.Error = err.Error()
	}
	c.OnStatus(s)
}

func transientCause(r reply) error {
	if r.err != nil {
		return r.err
	}
	return errors.New(firstLine(r.raw))
}
