// Package report serializes finished audit runs: CSV, an Excel workbook
// with per-status sheets, JSON with run metadata, and aggregate counts.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"canonical_validator/internal/models"
)

var columns = []string{"URL", "Final URL", "Canonical URL", "Status", "HTTP Status", "Error", "Response Time (ms)"}

// issueStatuses select the rows that land on the Issues sheet.
var issueStatuses = map[models.Status]bool{
	models.StatusMismatch: true,
	models.StatusError:    true,
	models.StatusMultiple: true,
	models.StatusEmpty:    true,
}

type Summary struct {
	Total         int                   `json:"total_urls"`
	ByStatus      map[models.Status]int `json:"status_breakdown"`
	AvgResponseMS int64                 `json:"avg_response_ms"`
}

func Summarize(records []models.ResultRecord) Summary {
	s := Summary{
		Total:    len(records),
		ByStatus: make(map[models.Status]int),
	}
	var totalMS int64
	for _, rec := range records {
		s.ByStatus[rec.Status]++
		totalMS += rec.ResponseTimeMS
	}
	if len(records) > 0 {
		s.AvgResponseMS = totalMS / int64(len(records))
	}
	return s
}

func row(rec models.ResultRecord) []string {
	httpStatus := ""
	if rec.HTTPStatus != 0 {
		httpStatus = strconv.Itoa(rec.HTTPStatus)
	}
	return []string{
		rec.URL,
		rec.FinalURL,
		rec.CanonicalURL,
		string(rec.Status),
		httpStatus,
		rec.ErrorDetail,
		strconv.FormatInt(rec.ResponseTimeMS, 10),
	}
}

func WriteCSV(w io.Writer, records []models.ResultRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(row(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteExcel produces a workbook with All Results, Summary, Issues and
// Matches sheets. Issues and Matches are only created when non-empty.
func WriteExcel(w io.Writer, records []models.ResultRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "All Results"); err != nil {
		return err
	}
	if err := writeRecordSheet(f, "All Results", records); err != nil {
		return err
	}

	if err := writeSummarySheet(f, Summarize(records)); err != nil {
		return err
	}

	var issues, matches []models.ResultRecord
	for _, rec := range records {
		if issueStatuses[rec.Status] {
			issues = append(issues, rec)
		}
		if rec.Status == models.StatusMatch {
			matches = append(matches, rec)
		}
	}
	if len(issues) > 0 {
		if _, err := f.NewSheet("Issues"); err != nil {
			return err
		}
		if err := writeRecordSheet(f, "Issues", issues); err != nil {
			return err
		}
	}
	if len(matches) > 0 {
		if _, err := f.NewSheet("Matches"); err != nil {
			return err
		}
		if err := writeRecordSheet(f, "Matches", matches); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func writeRecordSheet(f *excelize.File, sheet string, records []models.ResultRecord) error {
	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(rec)
		cells := make([]interface{}, len(values))
		for j, v := range values {
			cells[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, s Summary) error {
	if _, err := f.NewSheet("Summary"); err != nil {
		return err
	}
	if err := f.SetSheetRow("Summary", "A1", &[]interface{}{"Status", "Count", "Percentage"}); err != nil {
		return err
	}

	ordered := []models.Status{
		models.StatusMatch,
		models.StatusMismatch,
		models.StatusMissing,
		models.StatusMultiple,
		models.StatusEmpty,
		models.StatusError,
	}

	rowNum := 2
	for _, status := range ordered {
		count, ok := s.ByStatus[status]
		if !ok {
			continue
		}
		pct := float64(count) / float64(s.Total) * 100
		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err := f.SetSheetRow("Summary", cell, &[]interface{}{string(status), count, fmt.Sprintf("%.1f%%", pct)}); err != nil {
			return err
		}
		rowNum++
	}

	cell, _ := excelize.CoordinatesToCellName(1, rowNum)
	if err := f.SetSheetRow("Summary", cell, &[]interface{}{"TOTAL", s.Total, "100.0%"}); err != nil {
		return err
	}
	rowNum++

	cell, _ = excelize.CoordinatesToCellName(1, rowNum)
	return f.SetSheetRow("Summary", cell, &[]interface{}{"Avg Response Time", fmt.Sprintf("%dms", s.AvgResponseMS), ""})
}

type jsonExport struct {
	Metadata struct {
		TotalURLs       int       `json:"total_urls"`
		ExportTimestamp time.Time `json:"export_timestamp"`
		Summary         Summary   `json:"summary"`
	} `json:"metadata"`
	Results []jsonRecord `json:"results"`
}

type jsonRecord struct {
	URL            string `json:"url"`
	FinalURL       string `json:"final_url,omitempty"`
	CanonicalURL   string `json:"canonical_url,omitempty"`
	Status         string `json:"status"`
	HTTPStatus     int    `json:"http_status,omitempty"`
	ErrorDetail    string `json:"error_detail,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms"`
}

func WriteJSON(w io.Writer, records []models.ResultRecord) error {
	var export jsonExport
	export.Metadata.TotalURLs = len(records)
	export.Metadata.ExportTimestamp = time.Now().UTC()
	export.Metadata.Summary = Summarize(records)

	export.Results = make([]jsonRecord, 0, len(records))
	for _, rec := range records {
		export.Results = append(export.Results, jsonRecord{
			URL:            rec.URL,
			FinalURL:       rec.FinalURL,
			CanonicalURL:   rec.CanonicalURL,
			Status:         string(rec.Status),
			HTTPStatus:     rec.HTTPStatus,
			ErrorDetail:    rec.ErrorDetail,
			ResponseTimeMS: rec.ResponseTimeMS,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}
