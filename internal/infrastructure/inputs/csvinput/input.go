// Package csvinput is the "csv" source type: a request log file delivered
// once when the source starts.
package csvinput

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/infrastructure/inputs"
)

func init() {
	inputs.GlobalRegistry.Register(&Factory{})
}

// Factory registers as "csv".
type Factory struct{}

func (f *Factory) Name() string { return "csv" }

func (f *Factory) ConfigSpec() inputs.TypeInfo {
	return inputs.TypeInfo{
		Type:        "csv",
		Description: "Request log file (CSV, or JSON when the name ends in .json/.ndjson) scored into the source's stream batch when the source starts.",
		Fields: []inputs.ConfigField{
			{Name: "name", Type: "string", Required: true, Description: "Source name", Example: "csic-2010"},
			{Name: "path", Type: "string", Required: true, Description: "File path readable by the server", Example: "/data/csic_database.csv"},
		},
	}
}

func (f *Factory) Create(cfg inputs.Config, buffer inputs.Buffer, logger zerolog.Logger) (inputs.MessageInput, error) {
	return &Input{path: cfg.String("path"), buffer: buffer, log: logger.With().Str("file", cfg.String("path")).Logger()}, nil
}

// Input reads its file on Start.
type Input struct {
	path   string
	buffer inputs.Buffer
	log    zerolog.Logger
}

func (i *Input) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(i.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", i.path, err)
	}
	format := inputs.FormatCSV
	if ext := strings.ToLower(filepath.Ext(i.path)); ext == ".json" || ext == ".ndjson" || ext == ".jsonl" {
		format = inputs.FormatJSON
	}
	i.buffer.Insert(inputs.Payload{Format: format, Data: data, ReceivedAt: time.Now().UTC()})
	i.log.Info().Int("bytes", len(data)).Str("format", format).Msg("file delivered")
	return nil
}

func (i *Input) Stop() error { return nil }

// OneShot reports true: the file is delivered once, on the first Start.
func (i *Input) OneShot() bool { return true }

