// Package httpinput is the "http" source type: an endpoint that accepts
// batches of logged requests.
package httpinput

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/infrastructure/inputs"
)

const maxBody = 16 << 20

// Input writes each accepted request body to its Buffer. It does not depend
// on the backend.
type Input struct {
	path       string
	listenAddr string
	buffer     inputs.Buffer
	log        zerolog.Logger
	server     *http.Server
}

// NewInput creates an HTTP input. listenAddr is optional; if set, Start binds to that address.
func NewInput(basePath, name string, buffer inputs.Buffer, listenAddr string, logger zerolog.Logger) *Input {
	basePath = "/" + strings.Trim(strings.TrimSpace(basePath), "/")
	name = strings.Trim(strings.TrimSpace(name), "/")
	path := strings.TrimSuffix(basePath, "/") + "/" + name
	return &Input{
		path:       path,
		listenAddr: listenAddr,
		buffer:     buffer,
		log:        logger.With().Str("path", path).Logger(),
	}
}

func (i *Input) Path() string       { return i.path }
func (i *Input) ListenAddr() string { return i.listenAddr }

func (i *Input) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			w.Header().Set("Allow", "POST, PUT")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			http.Error(w, "empty payload", http.StatusBadRequest)
			return
		}
		p := inputs.Payload{
			Format:     inputs.FormatFor(r.Header.Get("Content-Type")),
			Data:       body,
			ReceivedAt: time.Now().UTC(),
		}
		i.log.Debug().Int("bytes", len(body)).Str("format", p.Format).Msg("payload received")
		i.buffer.Insert(p)
		w.WriteHeader(http.StatusAccepted)
	})
}

func (i *Input) Start(_ context.Context) error {
	if i.listenAddr == "" {
		return nil
	}
	i.server = &http.Server{
		Addr:              i.listenAddr,
		Handler:           i.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := i.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.log.Error().Err(err).Str("listen", i.listenAddr).Msg("ingest listener stopped")
		}
	}()
	i.log.Info().Str("listen", i.listenAddr).Msg("ingest listening")
	return nil
}

func (i *Input) Stop() error {
	if i.server != nil {
		return i.server.Close()
	}
	return nil
}
