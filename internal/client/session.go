package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
)

type result struct {
	data []byte
	err  error
}

// pending is one request waiting for its response. abandoned is only read
// and written by the dispatcher.
type pending struct {
	item      protocol.ControlItemCode
	sentAt    time.Time
	result    chan result
	abandoned bool
}

type releaseRequest struct {
	p         *pending
	tombstone bool
}

// session is one control connection and its response dispatcher.
type session struct {
	id      string
	started time.Time
	client  *Client

	// slot admits a single live awaiter
	slot     chan struct{}
	register chan *pending
	release  chan releaseRequest

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error // set before done is closed
}

func newSession(c *Client) *session {
	return &session{
		id:       uuid.NewString(),
		started:  time.Now(),
		client:   c,
		slot:     make(chan struct{}, 1),
		register: make(chan *pending),
		release:  make(chan releaseRequest),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// run is the dispatcher. It is the only reader of messages and the only
// goroutine that touches the pending queue.
func (s *session) run(messages <-chan []byte) {
	var queue []*pending
	lost := false

	defer func() {
		reason := ErrDisconnected
		if lost {
			reason = ErrConnectionLost
		}
		for _, p := range queue {
			if !p.abandoned {
				p.result <- result{err: reason}
			}
		}
		s.err = reason
		close(s.done)
		if lost {
			go s.client.connectionLost(s)
		}
	}()

	for {
		select {
		case p := <-s.register:
			queue = append(queue, p)

		case r := <-s.release:
			for i, p := range queue {
				if p != r.p {
					continue
				}
				if r.tombstone {
					p.abandoned = true
				} else {
					queue = append(queue[:i], queue[i+1:]...)
				}
				break
			}

		case frame, ok := <-messages:
			if !ok {
				lost = true
				return
			}
			queue = s.dispatch(frame, queue)

		case <-s.stop:
			return
		}
	}
}

// dispatch hands frame to the oldest pending request and returns the
// remaining queue.
func (s *session) dispatch(frame []byte, queue []*pending) []*pending {
	c := s.client
	msg, decodeErr := protocol.Decode(frame)

	if len(queue) == 0 {
		c.unsolicited.Add(1)
		c.metrics.RecordUnsolicited()
		if decodeErr != nil {
			c.logger.Debug("Discarding malformed unsolicited control message",
				slog.String("error", decodeErr.Error()))
		} else {
			c.logger.Debug("Discarding unsolicited control message",
				slog.String("message", fmt.Sprint(msg)))
		}
		return queue
	}

	p := queue[0]
	queue[0] = nil
	queue = queue[1:]

	// If the abandoned request's own reply never comes, this is the next
	// caller's reply and that caller times out.
	if p.abandoned {
		c.abandoned.Add(1)
		c.metrics.RecordAbandoned()
		c.logger.Debug("Dropping late response to abandoned request",
			slog.String("item", p.item.String()))
		return queue
	}

	if decodeErr != nil {
		p.result <- result{err: fmt.Errorf("%w: %w", ErrMalformedResponse, decodeErr)}
		return queue
	}

	c.responsesMatched.Add(1)
	c.metrics.RecordControlResponse(time.Since(p.sentAt).Seconds())
	p.result <- result{data: frame}
	return queue
}

func (s *session) close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// abandon removes p from the queue, or marks it so its response is dropped
// when tombstone is set.
func (s *session) abandon(p *pending, tombstone bool) {
	select {
	case s.release <- releaseRequest{p: p, tombstone: tombstone}:
	case <-s.done:
	}
}

// request sends frame and waits for the response matched to it by arrival
// order. Only one caller at a time waits; others block in line.
func (c *Client) request(ctx context.Context, s *session, item protocol.ControlItemCode, frame []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, c.requestFailed(item, fmt.Errorf("%w: %w", ErrRequestAbandoned, ctx.Err()))
	case <-s.done:
		return nil, c.requestFailed(item, s.err)
	}
	defer func() { <-s.slot }()

	p := &pending{item: item, sentAt: time.Now(), result: make(chan result, 1)}
	select {
	case s.register <- p:
	case <-ctx.Done():
		return nil, c.requestFailed(item, fmt.Errorf("%w: %w", ErrRequestAbandoned, ctx.Err()))
	case <-s.done:
		return nil, c.requestFailed(item, s.err)
	}

	c.requestsSent.Add(1)
	c.metrics.RecordControlSent(item.String())
	if err := c.control.Send(ctx, frame); err != nil {
		if ctx.Err() != nil {
			// part of the frame may have gone out
			s.abandon(p, true)
			return nil, c.requestFailed(item, fmt.Errorf("%w: %w", ErrRequestAbandoned, ctx.Err()))
		}
		s.abandon(p, false)
		return nil, c.requestFailed(item, fmt.Errorf("send %s: %w", item, err))
	}

	select {
	case r := <-p.result:
		if r.err != nil {
			return nil, c.requestFailed(item, r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		s.abandon(p, true)
		return nil, c.requestFailed(item, fmt.Errorf("%w: %w", ErrRequestAbandoned, ctx.Err()))
	}
}

func (c *Client) requestFailed(item protocol.ControlItemCode, err error) error {
	c.requestErrors.Add(1)

	reason := "transport"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, context.Canceled):
		reason = "cancelled"
	case errors.Is(err, ErrMalformedResponse):
		reason = "malformed"
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrDisconnected):
		reason = "disconnected"
	}
	c.metrics.RecordControlError(reason)

	c.logger.Debug("Control request failed",
		slog.String("item", item.String()),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	return err
}
