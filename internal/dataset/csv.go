// Package dataset reads request logs from CSV and JSON and writes scored
// results back out as CSV.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/akave-ai/anomalog/internal/model"
)

var ErrNoURLColumn = errors.New("dataset: no url column")

// headerColumns maps CSIC-2010 style header columns onto HTTP header names.
var headerColumns = map[string]string{
	"user-agent":      "User-Agent",
	"pragma":          "Pragma",
	"cache-control":   "Cache-Control",
	"accept":          "Accept",
	"accept-encoding": "Accept-Encoding",
	"accept-charset":  "Accept-Charset",
	"language":        "Accept-Language",
	"accept-language": "Accept-Language",
	"host":            "Host",
	"cookie":          "Cookie",
	"content-type":    "Content-Type",
	"connection":      "Connection",
	"lenght":          "Content-Length",
	"content-length":  "Content-Length",
}

// columns holds the position of each recognized column, -1 when absent.
type columns struct {
	id        int
	method    int
	url       int
	headers   int
	body      int
	label     int
	timestamp int
	source    int
	header    []headerColumn
}

// headerColumn is one CSIC-style header column, kept in file order.
type headerColumn struct {
	index int
	name  string
}

func indexColumns(head []string) (columns, error) {
	c := columns{id: -1, method: -1, url: -1, headers: -1, body: -1, label: -1, timestamp: -1, source: -1}
	for i, name := range head {
		switch key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))); key {
		case "id":
			c.id = i
		case "method":
			c.method = i
		case "url":
			c.url = i
		case "headers":
			c.headers = i
		case "body", "content":
			c.body = i
		case "label", "classification":
			c.label = i
		case "timestamp":
			c.timestamp = i
		case "source", "ip", "client_ip":
			c.source = i
		default:
			if h, ok := headerColumns[key]; ok {
				c.header = append(c.header, headerColumn{index: i, name: h})
			}
		}
	}
	if c.url < 0 {
		return c, ErrNoURLColumn
	}
	return c, nil
}

// ReadCSV reads a request log with a header row. Recognized columns are
// id, method, url, headers (a JSON object), body, label, timestamp and
// source, plus the CSIC-2010 layout (content, classification and one column
// per header). Other columns are ignored. Unknown label values leave the
// label unset. A row with an undecodable headers cell is returned with
// DecodeError set; only unreadable CSV fails the whole read.
func ReadCSV(r io.Reader) ([]model.RawRequest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := indexColumns(head)
	if err != nil {
		return nil, err
	}

	var out []model.RawRequest
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		out = append(out, cols.request(row, line))
	}
}

// request maps one row. A row whose cells cannot be decoded is returned with
// DecodeError set so the batch can skip it and keep going.
func (c columns) request(row []string, line int) model.RawRequest {
	get := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}
	req := model.RawRequest{
		ID:        strings.TrimSpace(get(c.id)),
		Method:    strings.TrimSpace(get(c.method)),
		URL:       strings.TrimSpace(get(c.url)),
		Body:      get(c.body),
		Timestamp: strings.TrimSpace(get(c.timestamp)),
		Source:    strings.TrimSpace(get(c.source)),
	}
	if raw := strings.TrimSpace(get(c.headers)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Headers); err != nil {
			req.Headers = nil
			req.DecodeError = fmt.Sprintf("line %d: headers column: %v", line, err)
		}
	}
	for _, h := range c.header {
		v := strings.TrimSpace(get(h.index))
		if v == "" {
			continue
		}
		if req.Headers == nil {
			req.Headers = make(map[string]string)
		}
		if prev, ok := req.Headers[h.name]; ok && prev != v {
			v = prev + ", " + v
		}
		req.Headers[h.name] = v
	}
	if l, err := model.ParseLabel(strings.TrimSpace(get(c.label))); err == nil {
		req.KnownLabel = &l
	}
	return req
}
