// Package ratelimiter paces outgoing fetches so a burst of feed refreshes
// does not hammer the relay or a single origin host.
package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	perHostRate = 500 * time.Millisecond
	queueSize   = 1000
)

type request struct {
	host     string
	do       func() ([]byte, error)
	response chan response
}

type response struct {
	body []byte
	err  error
}

type RateLimiter struct {
	queue    chan request
	lastSent map[string]time.Time
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	log      *slog.Logger
}

func New(log *slog.Logger) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())

	rl := &RateLimiter{
		queue:    make(chan request, queueSize),
		lastSent: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}

	go rl.processQueue()

	return rl
}

// Do runs the fetch closure once the per-host spacing allows it, preserving
// submission order within the queue.
func (rl *RateLimiter) Do(host string, do func() ([]byte, error)) ([]byte, error) {
	req := request{
		host:     host,
		do:       do,
		response: make(chan response, 1),
	}

	select {
	case rl.queue <- req:
		select {
		case resp := <-req.response:
			return resp.body, resp.err
		case <-rl.ctx.Done():
			return nil, rl.ctx.Err()
		}
	case <-rl.ctx.Done():
		return nil, rl.ctx.Err()
	}
}

func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) processQueue() {
	for {
		select {
		case req := <-rl.queue:
			rl.handleRequest(req)
		case <-rl.ctx.Done():
			// Drain without closing: a Do racing with Stop may still
			// send into the queue.
			for {
				select {
				case req := <-rl.queue:
					req.response <- response{
						err: rl.ctx.Err(),
					}
				default:
					return
				}
			}
		}
	}
}

func (rl *RateLimiter) handleRequest(req request) {
	rl.mu.Lock()
	lastSent, exists := rl.lastSent[req.host]
	rl.mu.Unlock()

	if exists {
		delay := getDelay(lastSent)

		if delay > 0 {
			rl.log.DebugContext(rl.ctx, "Rate limiting fetch",
				"host", req.host,
				"delay", delay,
				"queueLen", len(rl.queue))

			select {
			case <-time.After(delay):
			case <-rl.ctx.Done():
				req.response <- response{
					err: rl.ctx.Err(),
				}

				return
			}
		}
	}

	body, err := req.do()

	rl.mu.Lock()
	rl.lastSent[req.host] = time.Now()
	rl.mu.Unlock()

	req.response <- response{
		body: body,
		err:  err,
	}
}

func getDelay(lastSent time.Time) time.Duration {
	elapsed := time.Since(lastSent)

	return max(perHostRate-elapsed, 0)
}
