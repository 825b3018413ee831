package spectrum

import (
	"log"
	"net/http"

	"goji.io/pat"

	"github.com/oplab/spectro/server"
	"github.com/oplab/spectro/sweep"
)

// Exporter serves the most recent dataset over HTTP in both formats
type Exporter struct {
	// Source returns the records to export, most commonly
	// a sweep controller's Records method
	Source func() []sweep.Record

	rt server.RouteTable
}

// NewExporter binds an exporter to a record source
func NewExporter(source func() []sweep.Record) *Exporter {
	e := &Exporter{Source: source}
	e.rt = server.RouteTable{
		pat.Get("/spectrum.csv"):  e.CSV,
		pat.Get("/spectrum.fits"): e.FITS,
	}
	return e
}

// RT satisfies server.HTTPer
func (e *Exporter) RT() server.RouteTable {
	return e.rt
}

// CSV writes the dataset as text/csv
func (e *Exporter) CSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="spectrum.csv"`)
	if err := WriteCSV(w, e.Source()); err != nil {
		log.Printf("spectrum: csv export: %v", err)
	}
}

// FITS writes the dataset as a FITS binary table
func (e *Exporter) FITS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/fits")
	w.Header().Set("Content-Disposition", `attachment; filename="spectrum.fits"`)
	if err := WriteFITS(w, e.Source()); err != nil {
		log.Printf("spectrum: fits export: %v", err)
	}
}
