package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// RecordWriter writes a header and rows to a tabular file
type RecordWriter interface {
	Write(path string, header []string, rows [][]string) error
}

// WriterFor picks a RecordWriter from the file extension (.csv or .xlsx)
func WriterFor(path string) (RecordWriter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return CSVWriter{}, nil
	case ".xlsx":
		return XLSXWriter{}, nil
	}
	return nil, utils.WrapErrorf(utils.ErrConfigValidation, "no record writer for '%s'", path)
}

// RecordColumns returns the export header: url, then name_<locale> and desc_<locale> per locale
func RecordColumns(locales []string) []string {
	cols := make([]string, 0, 1+2*len(locales))
	cols = append(cols, "url")
	for _, l := range locales {
		cols = append(cols, "name_"+l, "desc_"+l)
	}
	return cols
}

// SortRecords orders records by their title in locale, then by URL
func SortRecords(records []*models.Record, locale string) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].Title(locale), records[j].Title(locale)
		if ti != tj {
			return ti < tj
		}
		return records[i].URL < records[j].URL
	})
}

// RecordRows flattens records into rows matching RecordColumns(locales)
func RecordRows(records []*models.Record, locales []string) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, 0, 1+2*len(locales))
		row = append(row, rec.URL)
		for _, l := range locales {
			row = append(row, rec.Title(l), rec.Description(l))
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteRecords sorts records by the first locale's title and writes them to
// path in the format implied by its extension.
func WriteRecords(path string, records []*models.Record, locales []string) error {
	w, err := WriterFor(path)
	if err != nil {
		return err
	}
	sorted := append([]*models.Record(nil), records...)
	if len(locales) > 0 {
		SortRecords(sorted, locales[0])
	}
	return w.Write(path, RecordColumns(locales), RecordRows(sorted, locales))
}

// CSVWriter writes RFC 4180 CSV
type CSVWriter struct{}

// Write implements RecordWriter
func (CSVWriter) Write(path string, header []string, rows [][]string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, path, cerr)
		}
	}()

	cw := csv.NewWriter(file)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// XLSXWriter writes a single-sheet Excel workbook
type XLSXWriter struct{}

// xlsxSheet is the default sheet of a new workbook
const xlsxSheet = "Sheet1"

// Write implements RecordWriter
func (XLSXWriter) Write(path string, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := setRow(f, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(f, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%w: saving '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

func setRow(f *excelize.File, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("%w: row %d: %w", utils.ErrFilesystem, rowNum, err)
	}
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
		return fmt.Errorf("%w: row %d: %w", utils.ErrFilesystem, rowNum, err)
	}
	return nil
}
