package telemetry

import (
	"io"
	"time"

	"github.com/astrogo/fitsio"
)

// WriteFITS streams s to w as a FITS file with an empty primary HDU and a
// binary table named TELEMETRY.  TIME is seconds since the Unix epoch.
func WriteFITS(w io.Writer, s Series) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	phdu := fitsio.NewImage(8, nil)
	defer phdu.Close()
	err = phdu.Header().Append(
		fitsio.Card{Name: "ORIGIN", Value: "forcebench"},
		fitsio.Card{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "file creation date (UTC)"},
	)
	if err != nil {
		return err
	}
	if err = fits.Write(phdu); err != nil {
		return err
	}

	cols := []fitsio.Column{
		{Name: "TIME", Format: "D", Unit: "s"},
		{Name: "POSITION", Format: "D", Unit: "deg"},
		{Name: "VELOCITY", Format: "D", Unit: "turn/s"},
		{Name: "TORQUE", Format: "D", Unit: "N.m"},
		{Name: "FORCE", Format: "D", Unit: "kg"},
	}
	tbl, err := fitsio.NewTable("TELEMETRY", cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	for i := 0; i < s.Len(); i++ {
		t := float64(s.Time[i].UnixNano()) / 1e9
		err = tbl.Write(&t, &s.Position[i], &s.Velocity[i], &s.Torque[i], &s.Force[i])
		if err != nil {
			return err
		}
	}
	return fits.Write(tbl)
}
