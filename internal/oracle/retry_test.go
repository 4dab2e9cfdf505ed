package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

// scriptedOracle answers each call with the next scripted step.
type scriptedOracle struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (string, error)
	calls int
	seen  []Request
}

func (s *scriptedOracle) Decide(ctx context.Context, req *Request) (string, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.seen = append(s.seen, *req)
	step := s.steps[len(s.steps)-1]
	if i < len(s.steps) {
		step = s.steps[i]
	}
	s.mu.Unlock()
	return step(ctx)
}

func replyStep(raw string, err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return raw, err }
}

func hang(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func newTestController(o Oracle, attempts int) (*Controller, *[]time.Duration, *[]Status) {
	c := NewController(o, config.Retry{
		MaxAttempts: attempts,
		Delays:      []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second},
	}, time.Second)
	var mu sync.Mutex
	var delays []time.Duration
	var statuses []Status
	c.After = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	c.OnStatus = func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}
	return c, &delays, &statuses
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		err  error
		want Outcome
	}{
		{"ok", `{"action":"wait"}`, nil, OutcomeOK},
		{"rate limited sentinel", "", ErrRateLimited, OutcomeTransient},
		{"disconnect", "", fmt.Errorf("call: %w", ErrDisconnected), OutcomeTransient},
		{"timeout", "", context.DeadlineExceeded, OutcomeTransient},
		{"overloaded text", "", errors.New(`API error 400: {"type":"overloaded_error"}`), OutcomeTransient},
		{"bad request", "", errors.New("API error 400: invalid model"), OutcomeContent},
		{"error page as reply", "Error 529: the service is over capacity", nil, OutcomeTransient},
		{"decision mentioning capacity", `{"action":"hire","reasoning":"we need capacity"}`, nil, OutcomeOK},
		{"prose reply", "I would rather wait.", nil, OutcomeOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.raw, tc.err); got != tc.want {
				t.Fatalf("Classify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestController_SucceedsAfterTransient(t *testing.T) {
	o := &scriptedOracle{steps: []func(context.Context) (string, error){
		replyStep("", ErrRateLimited),
		replyStep("", errors.New("API error 503: too many requests")),
		replyStep(`{"action":"hire"}`, nil),
	}}
	c, delays, statuses := newTestController(o, 3)
	res := c.Request(context.Background(), &Request{Family: social.Rossetti, Turn: 4})
	if res.Exhausted || res.Err != nil || res.Raw != `{"action":"hire"}` {
		t.Fatalf("result = %+v", res)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d", res.Attempts)
	}
	if len(*delays) != 2 || (*delays)[0] != 5*time.Second || (*delays)[1] != 15*time.Second {
		t.Fatalf("delays = %v", *delays)
	}
	// Every attempt reuses the same correlation id.
	for _, r := range o.seen {
		if r.CorrelationID != res.CorrelationID || r.CorrelationID == "" {
			t.Fatalf("correlation id changed across retries: %q vs %q", r.CorrelationID, res.CorrelationID)
		}
	}
	last := (*statuses)[len(*statuses)-1]
	if last.State != StateSucceeded || last.Attempt != 3 {
		t.Fatalf("last status = %+v", last)
	}
	if c.Outstanding() != 0 {
		t.Fatal("pending state not cleared")
	}
}

func TestController_RetryCap(t *testing.T) {
	o := &scriptedOracle{steps: []func(context.Context) (string, error){replyStep("", ErrRateLimited)}}
	c, delays, statuses := newTestController(o, 3)
	res := c.Request(context.Background(), &Request{Family: social.Falcone})
	if !res.Exhausted {
		t.Fatalf("result = %+v, want exhausted", res)
	}
	if o.calls != 3 {
		t.Fatalf("oracle called %d times, want 3", o.calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("scheduled %d retries, want 2", len(*delays))
	}
	if got := (*statuses)[len(*statuses)-1].State; got != StateExhausted {
		t.Fatalf("final state = %s", got)
	}
	if c.Outstanding() != 0 {
		t.Fatal("pending state not cleared")
	}
}

func TestController_DelayClampsToLast(t *testing.T) {
	o := &scriptedOracle{steps: []func(context.Context) (string, error){replyStep("", ErrRateLimited)}}
	c, delays, _ := newTestController(o, 5)
	c.Request(context.Background(), &Request{Family: social.Moretti})
	want := []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second, 30 * time.Second}
	if fmt.Sprint(*delays) != fmt.Sprint(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
}

func TestController_ContentFailureIsNotRetried(t *testing.T) {
	o := &scriptedOracle{steps: []func(context.Context) (string, error){replyStep("", errors.New("API error 401: invalid x-api-key"))}}
	c, delays, _ := newTestController(o, 3)
	res := c.Request(context.Background(), &Request{Family: social.Marinelli})
	if res.Err == nil || res.Exhausted || o.calls != 1 || len(*delays) != 0 {
		t.Fatalf("result = %+v calls=%d", res, o.calls)
	}
}

func TestController_TimeoutIsTransient(t *testing.T) {
	o := &scriptedOracle{steps: []func(context.Context) (string, error){hang, replyStep(`{"action":"wait"}`, nil)}}
	c, _, _ := newTestController(o, 3)
	c.timeout = 10 * time.Millisecond
	res := c.Request(context.Background(), &Request{Family: social.Rossetti})
	if res.Err != nil || res.Raw != `{"action":"wait"}` || res.Attempts != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestController_CancelAbandonsPending(t *testing.T) {
	started := make(chan struct{})
	o := &scriptedOracle{steps: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			close(started)
			return hang(ctx)
		},
	}}
	c, _, statuses := newTestController(o, 3)
	c.timeout = time.Minute

	done := make(chan Result, 1)
	go func() { done <- c.Request(context.Background(), &Request{Family: social.Falcone}) }()
	<-started
	c.Cancel(social.Falcone)

	select {
	case res := <-done:
		if !errors.Is(res.Err, context.Canceled) {
			t.Fatalf("err = %v, want canceled", res.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled request did not return")
	}
	if got := (*statuses)[len(*statuses)-1].State; got != StateCancelled {
		t.Fatalf("final state = %s", got)
	}
	if c.Outstanding() != 0 {
		t.Fatal("pending state not cleared")
	}
}

func TestController_NewRequestSupersedesOld(t *testing.T) {
	started := make(chan struct{}, 2)
	o := &scriptedOracle{steps: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			started <- struct{}{}
			return hang(ctx)
		},
		replyStep(`{"action":"claim"}`, nil),
	}}
	c, _, _ := newTestController(o, 3)
	c.timeout = time.Minute

	first := make(chan Result, 1)
	go func() { first <- c.Request(context.Background(), &Request{Family: social.Moretti}) }()
	<-started

	second := c.Request(context.Background(), &Request{Family: social.Moretti})
	if second.Raw != `{"action":"claim"}` {
		t.Fatalf("second = %+v", second)
	}
	select {
	case res := <-first:
		if res.Err == nil || res.Raw != "" {
			t.Fatalf("superseded request produced %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("superseded request did not return")
	}
}
