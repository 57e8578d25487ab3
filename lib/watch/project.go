// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// project is the watcher for one project tree. dirs maps every
// directory path seen to whether it is currently watched; removed
// directories stay as false so their second removal notice is still
// recognised. dirs is owned by the event loop once it starts.
type project struct {
	id          string
	root        string
	watcher     *fsnotify.Watcher
	dirs        map[string]bool
	subscribers map[*subscriber]struct{}
	done        chan struct{}
}

// startProject watches every directory under root and starts the
// event loop. Called with h.mu held.
func (h *Hub) startProject(projectID, root string) (*project, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: creating watcher: %w", err)
	}
	watched := &project{
		id:          projectID,
		root:        filepath.Clean(root),
		watcher:     watcher,
		dirs:        make(map[string]bool),
		subscribers: make(map[*subscriber]struct{}),
		done:        make(chan struct{}),
	}
	if err := watcher.Add(watched.root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch: watching %s: %w", watched.root, err)
	}
	watched.dirs[watched.root] = true
	h.addTree(watched, watched.root, false)

	go h.run(watched)
	h.logger.Info("watching project", "project_id", projectID, "root", watched.root, "directories", len(watched.dirs))
	return watched, nil
}

func (h *Hub) run(watched *project) {
	defer close(watched.done)
	for {
		select {
		case event, ok := <-watched.watcher.Events:
			if !ok {
				return
			}
			for _, translated := range h.translate(watched, event) {
				h.dispatch(watched, translated)
			}
		case err, ok := <-watched.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("project watcher error", "project_id", watched.id, "error", err)
		}
	}
}

// stop closes the watcher and waits for the event loop to exit.
func (p *project) stop() {
	p.watcher.Close()
	<-p.done
}

// translate maps one fsnotify event to zero or more Events. A new
// directory is watched and reported through the files already inside
// it, which may have been written before the watch was in place.
func (h *Hub) translate(watched *project, event fsnotify.Event) []Event {
	path := filepath.Clean(event.Name)
	if insideGit(path) {
		return nil
	}
	report := func(op Op) []Event {
		return []Event{{ProjectID: watched.id, Op: op, Path: path}}
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err == nil && info.IsDir() {
			return h.addTree(watched, path, true)
		}
		delete(watched.dirs, path)
		return report(OpCreated)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if _, directory := watched.dirs[path]; directory {
			h.forgetTree(watched, path)
			return nil
		}
		if event.Has(fsnotify.Remove) {
			return report(OpDeleted)
		}
		return report(OpMoved)
	case event.Has(fsnotify.Write):
		return report(OpModified)
	}
	return nil
}

// addTree watches directory and everything below it except .git
// trees. With announce set, files found are returned as created.
func (h *Hub) addTree(watched *project, directory string, announce bool) []Event {
	var found []Event
	filepath.WalkDir(directory, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			h.logger.Debug("skipping unreadable path", "project_id", watched.id, "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !entry.IsDir() {
			if announce {
				found = append(found, Event{ProjectID: watched.id, Op: OpCreated, Path: path})
			}
			return nil
		}
		if entry.Name() == ".git" {
			return fs.SkipDir
		}
		if watched.dirs[path] {
			return nil
		}
		if err := watched.watcher.Add(path); err != nil {
			h.logger.Warn("watching directory failed", "project_id", watched.id, "path", path, "error", err)
			return fs.SkipDir
		}
		watched.dirs[path] = true
		return nil
	})
	return found
}

// forgetTree drops the watches for a removed or renamed directory. A
// watch the kernel already released returns an error, which is
// ignored.
func (h *Hub) forgetTree(watched *project, directory string) {
	prefix := directory + string(filepath.Separator)
	for path := range watched.dirs {
		if path == directory || strings.HasPrefix(path, prefix) {
			if watched.dirs[path] {
				watched.watcher.Remove(path)
				watched.dirs[path] = false
			}
		}
	}
}

func insideGit(path string) bool {
	slashed := filepath.ToSlash(path)
	return strings.Contains(slashed, "/.git/") || strings.HasSuffix(slashed, "/.git")
}
