package server

import (
	"net/http"
	"strings"
	"sync"
)

// IngestDispatcher routes /ingest/<name> to the handler of a running source.
// Sources are mounted and unmounted while the server runs.
type IngestDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]http.Handler
}

func NewIngestDispatcher() *IngestDispatcher {
	return &IngestDispatcher{
		handlers: make(map[string]http.Handler),
	}
}

func cleanPath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return path
}

// Mount registers h for path (e.g. "/ingest/edge"), replacing any previous handler.
func (d *IngestDispatcher) Mount(path string, h http.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[cleanPath(path)] = h
}

func (d *IngestDispatcher) Unmount(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, cleanPath(path))
}

// Paths returns the mounted paths.
func (d *IngestDispatcher) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for p := range d.handlers {
		out = append(out, p)
	}
	return out
}

func (d *IngestDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	h, ok := d.handlers[cleanPath(r.URL.Path)]
	d.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}
