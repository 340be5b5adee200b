package inputs

import "github.com/rs/zerolog"

// Factory creates a MessageInput from config and buffer.
// Each source type (http, csv) implements and registers a Factory.
type Factory interface {
	Name() string
	ConfigSpec() TypeInfo
	Create(cfg Config, buffer Buffer, logger zerolog.Logger) (MessageInput, error)
}
