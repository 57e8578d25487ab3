// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch fans out file changes under project directories to
// in-process listeners.
//
// A [Hub] keeps at most one recursive fsnotify watcher per project. The
// watcher starts with the first subscriber and stops when the last one
// cancels. Each listener receives events through its own bounded queue
// and goroutine, so a slow or panicking listener never delays the
// others: a full queue drops the event for that listener only.
//
// Directory events and anything under a .git directory are not
// reported.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Op is the kind of change an Event reports.
type Op string

const (
	OpCreated  Op = "created"
	OpModified Op = "modified"
	OpDeleted  Op = "deleted"
	OpMoved    Op = "moved"
)

// Event is one file change inside a watched project.
type Event struct {
	ProjectID string `json:"project_id"`
	Op        Op     `json:"op"`
	Path      string `json:"path"`
}

// Listener receives events for one subscription. Calls for a single
// listener are sequential.
type Listener func(Event)

// DefaultQueueSize is the per-listener queue length used when Config
// leaves QueueSize unset.
const DefaultQueueSize = 256

// Config configures a Hub. Logger is required.
type Config struct {
	Logger    *slog.Logger
	QueueSize int
}

// Hub owns the project watchers. Safe for concurrent use.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu       sync.Mutex
	projects map[string]*project
}

// New returns an empty Hub.
func New(cfg Config) (*Hub, error) {
	if cfg.Logger == nil {
		return nil, errors.New("watch: Logger is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Hub{
		logger:    cfg.Logger,
		queueSize: cfg.QueueSize,
		projects:  make(map[string]*project),
	}, nil
}

// Subscribe registers listener for changes under root and returns a
// function that removes it. Cancelling more than once is harmless. The
// first subscription for projectID starts the watcher; root is ignored
// for later subscriptions to the same project.
func (h *Hub) Subscribe(projectID, root string, listener Listener) (func(), error) {
	if projectID == "" {
		return nil, errors.New("watch: project id is required")
	}
	if listener == nil {
		return nil, errors.New("watch: listener is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	watched, ok := h.projects[projectID]
	if !ok {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("watch: project %s: %w", projectID, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("watch: project %s: %s is not a directory", projectID, root)
		}
		watched, err = h.startProject(projectID, root)
		if err != nil {
			return nil, err
		}
		h.projects[projectID] = watched
	}

	subscriber := newSubscriber(projectID, listener, h.queueSize, h.logger)
	watched.subscribers[subscriber] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(watched, subscriber) })
	}, nil
}

func (h *Hub) unsubscribe(watched *project, subscriber *subscriber) {
	h.mu.Lock()
	if _, ok := watched.subscribers[subscriber]; !ok {
		h.mu.Unlock()
		return
	}
	delete(watched.subscribers, subscriber)
	subscriber.close()

	last := len(watched.subscribers) == 0 && h.projects[watched.id] == watched
	if last {
		delete(h.projects, watched.id)
	}
	h.mu.Unlock()

	if last {
		watched.stop()
		h.logger.Info("stopped watching project", "project_id", watched.id)
	}
}

// StopAll stops every watcher and drops every subscription.
func (h *Hub) StopAll() {
	h.mu.Lock()
	projects := h.projects
	h.projects = make(map[string]*project)
	for _, watched := range projects {
		for subscriber := range watched.subscribers {
			subscriber.close()
		}
		clear(watched.subscribers)
	}
	h.mu.Unlock()

	for _, watched := range projects {
		watched.stop()
	}
	if len(projects) > 0 {
		h.logger.Info("stopped all project watchers", "count", len(projects))
	}
}

// Watching returns the number of projects with an active watcher.
func (h *Hub) Watching() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.projects)
}

// dispatch queues event for every subscriber of watched.
func (h *Hub) dispatch(watched *project, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for subscriber := range watched.subscribers {
		subscriber.offer(event)
	}
}

// subscriber is one Listener with its queue.
type subscriber struct {
	projectID string
	listener  Listener
	queue     chan Event
	logger    *slog.Logger
}

func newSubscriber(projectID string, listener Listener, size int, logger *slog.Logger) *subscriber {
	s := &subscriber{
		projectID: projectID,
		listener:  listener,
		queue:     make(chan Event, size),
		logger:    logger,
	}
	go s.deliver()
	return s
}

// offer enqueues without blocking. Callers hold the hub lock, which
// also guards close.
func (s *subscriber) offer(event Event) {
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("watch listener queue full, dropping event",
			"project_id", s.projectID,
			"op", event.Op,
			"path", event.Path,
		)
	}
}

func (s *subscriber) close() {
	close(s.queue)
}

func (s *subscriber) deliver() {
	for event := range s.queue {
		s.call(event)
	}
}

func (s *subscriber) call(event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("watch listener panicked",
				"project_id", s.projectID,
				"path", event.Path,
				"panic", recovered,
			)
		}
	}()
	s.listener(event)
}
