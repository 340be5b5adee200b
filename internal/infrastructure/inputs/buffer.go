package inputs

import "time"

// Payload formats understood by the stream analyzer.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Payload is one chunk of logged requests received by a source.
type Payload struct {
	Format     string
	Data       []byte
	ReceivedAt time.Time
}

// Buffer receives payloads from inputs. The backend binds one Buffer per
// source so payloads land in that source's stream batch.
type Buffer interface {
	Insert(Payload)
}

// BufferFunc adapts a function to Buffer.
type BufferFunc func(Payload)

func (f BufferFunc) Insert(p Payload) { f(p) }

// FormatFor picks the payload format from a content type or file name.
func FormatFor(contentTypeOrName string) string {
	if containsFold(contentTypeOrName, "csv") {
		return FormatCSV
	}
	return FormatJSON
}
