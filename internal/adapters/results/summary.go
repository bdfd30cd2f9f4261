package results

import (
	"io"

	perr "metxy/internal/platform/errors"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "corrections"

var summaryHeader = []any{"tag", "met", "x_m", "x_c", "y_m", "y_c"}

// WriteSummary renders every stored correction of version/epoch into one
// workbook and returns its path. Missing components leave empty cells.
func (s *FS) WriteSummary(version, epoch string) (string, error) {
	entries, err := s.ListCorrections(version, epoch)
	if err != nil {
		return "", err
	}
	path := s.SummaryPath(version, epoch)
	err = writeAtomic(path, func(w io.Writer) error { return renderSummary(w, entries) })
	if err != nil {
		return "", err
	}
	return path, nil
}

func renderSummary(w io.Writer, entries []Entry) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	idx, err := f.NewSheet(summarySheet)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "summary sheet")
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "summary sheet")
	}

	if err := f.SetSheetRow(summarySheet, "A1", &summaryHeader); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "summary header")
	}
	for i, e := range entries {
		row := []any{e.Tag, e.MET, nil, nil, nil, nil}
		if e.Set.X != nil {
			row[2], row[3] = e.Set.X.M, e.Set.X.C
		}
		if e.Set.Y != nil {
			row[4], row[5] = e.Set.Y.M, e.Set.Y.C
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return perr.Wrap(err, perr.ErrorCodeIO, "summary cell")
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return perr.Wrap(err, perr.ErrorCodeIO, "summary row")
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "summary write")
	}
	return nil
}
