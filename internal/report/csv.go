// Package report exports result tables as CSV files and archives them to
// object storage.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/temfield/internal/result"
)

// TimeLayout is the timestamp layout of the comment header and the Time column
const TimeLayout = "2006-01-02T15:04:05.000000-0700"

// Header is the column header row of an exported table
var Header = []string{"Time", "Frequency (Hz)", "CW (V/m)", "Field (V/m)", "Status"}

// WriteCSV writes the result table of a session to w. The table is preceded
// by comment lines carrying the save time and the EUT description.
func WriteCSV(w io.Writer, session *result.Session, points []result.Point, savedAt time.Time) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# File saved: %s\n#\n", savedAt.Format(TimeLayout))
	bw.WriteString("# EUT Description\n")
	if session != nil {
		for _, line := range splitLines(session.EUTDescription) {
			fmt.Fprintf(bw, "# %s\n", line)
		}
	}

	cw := csv.NewWriter(bw)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, p := range points {
		if err := cw.Write(row(p)); err != nil {
			return fmt.Errorf("writing point %d: %w", p.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing table: %w", err)
	}

	return bw.Flush()
}

// SaveTable writes the result table of session into dir and returns the
// path of the new file.
func SaveTable(dir string, session *result.Session, points []result.Point) (path string, err error) {
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating table directory: %w", err)
	}

	path = filepath.Join(dir, FileName(session))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating table file: %w", err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if err = WriteCSV(f, session, points, time.Now()); err != nil {
		return "", err
	}
	return path, nil
}

// FileName returns the default export file name of a session
func FileName(session *result.Session) string {
	name := "temfield_" + session.StartTime.Local().Format("20060102_150405")
	if id, _, _ := strings.Cut(session.RunID, "-"); id != "" {
		name += "_" + id
	}
	return name + ".csv"
}

func row(p result.Point) []string {
	var field string
	if p.Field != nil {
		field = formatFloat(*p.Field)
	}
	return []string{
		p.Timestamp.Format(TimeLayout),
		formatFloat(p.Frequency),
		formatFloat(p.CW),
		field,
		string(p.Status),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
