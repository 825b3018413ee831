// Package spectrum persists sweep datasets.  Two formats are supported:
// CSV for spreadsheets and quick plotting, and FITS binary tables for the
// archive.
package spectrum

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/astrogo/fitsio"

	"github.com/oplab/spectro/sweep"
)

// the CSV column set, in the order downstream analysis expects
var csvHeader = []string{"Lambda(nm)", "X(V)", "Y(V)", "R(V)", "Phase(deg)"}

// WriteCSV streams the dataset to w as CSV with a header row
func WriteCSV(w io.Writer, records []sweep.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	row := make([]string, 5)
	for _, rec := range records {
		row[0] = strconv.FormatFloat(rec.Wavelength, 'f', 3, 64)
		row[1] = strconv.FormatFloat(rec.X, 'e', 6, 64)
		row[2] = strconv.FormatFloat(rec.Y, 'e', 6, 64)
		row[3] = strconv.FormatFloat(rec.R, 'e', 6, 64)
		row[4] = strconv.FormatFloat(rec.Phase, 'f', 3, 64)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// fitsRecord mirrors sweep.Record with the column names used in the table
type fitsRecord struct {
	Lambda float64 `fits:"LAMBDA"`
	X      float64 `fits:"X"`
	Y      float64 `fits:"Y"`
	R      float64 `fits:"R"`
	Phase  float64 `fits:"PHASE"`
}

// WriteFITS streams the dataset to w as a FITS binary table in an extension
// named SPECTRUM
func WriteFITS(w io.Writer, records []sweep.Record) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	phdu, err := fitsio.NewPrimaryHDU(nil)
	if err != nil {
		return err
	}
	if err := f.Write(phdu); err != nil {
		return err
	}

	tbl, err := fitsio.NewTable("SPECTRUM", []fitsio.Column{
		{Name: "LAMBDA", Format: "D", Unit: "nm"},
		{Name: "X", Format: "D", Unit: "V"},
		{Name: "Y", Format: "D", Unit: "V"},
		{Name: "R", Format: "D", Unit: "V"},
		{Name: "PHASE", Format: "D", Unit: "deg"},
	}, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	for _, rec := range records {
		fr := fitsRecord{
			Lambda: rec.Wavelength,
			X:      rec.X,
			Y:      rec.Y,
			R:      rec.R,
			Phase:  rec.Phase,
		}
		if err := tbl.Write(&fr); err != nil {
			return err
		}
	}
	return f.Write(tbl)
}
