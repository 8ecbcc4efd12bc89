package bus

import (
	"slices"
	"sync"

	"github.com/maruel/statestore/internal/keypath"
)

// Hub broadcasts between replicas living in the same process.
//
// Each replica joins with its own Endpoint. Every endpoint owns a delivery
// goroutine so messages reach a replica asynchronously, one at a time, in the
// order they were published. Payloads are deep copied so replicas never share
// mutable state.
type Hub struct {
	mu        sync.Mutex
	idle      *sync.Cond
	endpoints []*Endpoint
	pending   int
}

// NewHub returns a Hub without endpoints.
func NewHub() *Hub {
	h := &Hub{}
	h.idle = sync.NewCond(&h.mu)
	return h
}

// Join attaches a new replica to the hub.
func (h *Hub) Join() *Endpoint {
	e := &Endpoint{
		hub:  h,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.endpoints = append(h.endpoints, e)
	h.mu.Unlock()
	go e.run()
	return e
}

// Wait blocks until every message published so far has been handled by all
// its recipients, including messages published by handlers while waiting.
func (h *Hub) Wait() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.pending > 0 {
		h.idle.Wait()
	}
}

func (h *Hub) delivered(n int) {
	if n == 0 {
		return
	}
	h.mu.Lock()
	h.pending -= n
	if h.pending == 0 {
		h.idle.Broadcast()
	}
	h.mu.Unlock()
}

// Endpoint is one replica's connection to a Hub. It implements Bus.
type Endpoint struct {
	hub  *Hub
	wake chan struct{}
	done chan struct{}

	mu       sync.Mutex
	queue    []Message
	handlers handlers
}

// Publish implements Bus.
func (e *Endpoint) Publish(msg Message) error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if !slices.Contains(h.endpoints, e) {
		return ErrClosed
	}
	for _, peer := range h.endpoints {
		if peer == e {
			continue
		}
		c := msg
		c.Value = keypath.Clone(msg.Value)
		peer.mu.Lock()
		peer.queue = append(peer.queue, c)
		peer.mu.Unlock()
		h.pending++
		select {
		case peer.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.
func (e *Endpoint) Subscribe(fn func(Message)) func() {
	e.mu.Lock()
	entry := e.handlers.add(fn)
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		e.handlers.remove(entry)
		e.mu.Unlock()
	}
}

// Close detaches the endpoint. Queued messages are dropped.
func (e *Endpoint) Close() error {
	h := e.hub
	h.mu.Lock()
	i := slices.Index(h.endpoints, e)
	if i < 0 {
		h.mu.Unlock()
		return nil
	}
	h.endpoints = slices.Delete(h.endpoints, i, i+1)
	e.mu.Lock()
	dropped := len(e.queue)
	e.queue = nil
	e.mu.Unlock()
	h.mu.Unlock()
	close(e.done)
	h.delivered(dropped)
	return nil
}

func (e *Endpoint) run() {
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			msg := e.queue[0]
			e.queue = e.queue[1:]
			hs := e.handlers.snapshot()
			e.mu.Unlock()
			for _, hd := range hs {
				hd.fn(msg)
			}
			e.hub.delivered(1)
		}
	}
}
