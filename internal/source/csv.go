package source

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/provider"
)

// CSVOptions configures CSV parsing. The first row is always the header.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // 0 = none
	LazyQuotes bool
}

// StreamCSV parses a headed CSV file and sends one record per data row.
// Blank rows are skipped. Both channels are closed when parsing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan provider.Record, <-chan error) {
	outCh := make(chan provider.Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		var header []string
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				if header == nil {
					errCh <- eris.New("csv: missing header row")
				}
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if header == nil {
				header = row
				continue
			}
			if blank(row) {
				continue
			}

			select {
			case outCh <- provider.FromRow(header, row):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

// ReadCSV collects every record of a headed CSV file.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]provider.Record, error) {
	return collect(StreamCSV(ctx, r, opts))
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// collect drains a record stream, returning the stream's error if any.
func collect(outCh <-chan provider.Record, errCh <-chan error) ([]provider.Record, error) {
	var records []provider.Record
	for rec := range outCh {
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return records, nil
}
