package dataset

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/model"
)

// ExportColumns is the header row written by WriteResultsCSV.
var ExportColumns = []string{
	"id", "index", "timestamp", "source", "method", "host", "path", "query", "body",
	"score", "label", "threshold",
	"explanation", "recommended_action", "explanation_source", "explanation_state", "explanation_reason",
}

// WriteResultsCSV writes one row per record in the given order. Explanation
// columns are empty for normal verdicts.
func WriteResultsCSV(w io.Writer, records []model.ResultRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(exportRow(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportRow(rec model.ResultRecord) []string {
	req, v := rec.Request, rec.Verdict
	row := []string{
		req.ID,
		strconv.Itoa(rec.Index),
		req.Timestamp,
		req.Source,
		string(req.Method),
		req.Host,
		req.Path,
		features.QueryString(req.Query),
		req.Body,
		strconv.FormatFloat(v.Score, 'f', 6, 64),
		string(v.Label),
		strconv.FormatFloat(v.Threshold, 'f', -1, 64),
		"", "", "", "", "",
	}
	if e := rec.Explanation; e != nil {
		row[12] = e.Narrative
		row[13] = e.RecommendedAction
		row[14] = string(e.Source)
	}
	if o := rec.Outcome; o != nil {
		row[15] = string(o.State)
		row[16] = o.Reason
	}
	return row
}
