package httpinput

import (
	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/infrastructure/inputs"
)

func init() {
	inputs.GlobalRegistry.Register(&Factory{})
}

// Factory creates HTTP ingest endpoints. Registers as "http".
type Factory struct{}

func (f *Factory) Name() string {
	return "http"
}

func (f *Factory) ConfigSpec() inputs.TypeInfo {
	return inputs.TypeInfo{
		Type:        "http",
		Description: "HTTP ingest endpoint. Accepts logged requests as JSON (object, array or NDJSON) or CSV and scores them into the source's stream batch.",
		Fields: []inputs.ConfigField{
			{Name: "name", Type: "string", Required: true, Description: "Path segment for the endpoint (e.g. 'edge' → /ingest/edge)", Example: "edge"},
			{Name: "base_path", Type: "string", Required: false, Description: "Base path prefix", Example: "/ingest"},
			{Name: "listen", Type: "string", Required: false, Description: "Optional host:port to bind instead of mounting on the main server", Example: ":9001"},
		},
	}
}

func (f *Factory) Create(cfg inputs.Config, buffer inputs.Buffer, logger zerolog.Logger) (inputs.MessageInput, error) {
	basePath := cfg.String("base_path")
	if basePath == "" {
		basePath = "/ingest"
	}
	return NewInput(basePath, cfg.String("name"), buffer, cfg.String("listen"), logger), nil
}
