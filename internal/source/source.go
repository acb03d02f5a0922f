// Package source reads batch files of provider records from local paths or
// ftp:// URLs. CSV, JSON array and XLSX files are supported.
package source

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/config"
	"github.com/sells-group/mailhaus/internal/provider"
)

// Format is a batch file encoding.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for a file extension with no reader.
var ErrUnsupportedFormat = eris.New("source: unsupported file format")

// DetectFormat picks a format from the location's extension.
func DetectFormat(location string) (Format, error) {
	p := location
	if isFTP(location) {
		if _, rp, err := parseFTPURL(location); err == nil {
			p = rp
		}
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", eris.Wrapf(ErrUnsupportedFormat, "source: %s", location)
}

// Loader opens and parses batch files.
type Loader struct {
	ftp *FTPClient
	log *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(opts FTPOptions) *Loader {
	return &Loader{
		ftp: NewFTPClient(opts),
		log: zap.L().With(zap.String("component", "source")),
	}
}

// LoaderFromConfig builds a Loader from the ftp settings.
func LoaderFromConfig(c config.FTPConfig) *Loader {
	return NewLoader(FTPOptions{
		Timeout:  time.Duration(c.TimeoutSecs) * time.Second,
		User:     c.User,
		Password: c.Password,
	})
}

// Open returns a reader over a local file or an ftp:// URL.
func (l *Loader) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if isFTP(location) {
		return l.ftp.Download(ctx, location)
	}
	f, err := os.Open(location)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", location)
	}
	return f, nil
}

// ReadRecords loads every record of a batch file. The whole file is parsed
// before anything is returned, so a malformed file yields no records.
func (l *Loader) ReadRecords(ctx context.Context, location string) ([]provider.Record, error) {
	format, err := DetectFormat(location)
	if err != nil {
		return nil, err
	}

	var records []provider.Record
	switch format {
	case FormatXLSX:
		records, err = l.readXLSX(ctx, location)
	default:
		var rc io.ReadCloser
		rc, err = l.Open(ctx, location)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck
		if format == FormatCSV {
			records, err = ReadCSV(ctx, rc, CSVOptions{})
		} else {
			records, err = ReadJSON(ctx, rc)
		}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", location)
	}

	l.log.Debug("batch file loaded",
		zap.String("location", location),
		zap.String("format", string(format)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// readXLSX needs random access, so remote workbooks are staged in a temp
// file first.
func (l *Loader) readXLSX(ctx context.Context, location string) ([]provider.Record, error) {
	if !isFTP(location) {
		return ReadXLSX(location, XLSXOptions{})
	}
	tmp, err := os.CreateTemp("", "mailhaus-*.xlsx")
	if err != nil {
		return nil, eris.Wrap(err, "source: create temp file")
	}
	tmpPath := tmp.Name()
	tmp.Close()              //nolint:errcheck
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := l.ftp.DownloadToFile(ctx, location, tmpPath); err != nil {
		return nil, err
	}
	return ReadXLSX(tmpPath, XLSXOptions{})
}

func isFTP(location string) bool {
	return strings.HasPrefix(strings.ToLower(location), "ftp://")
}
