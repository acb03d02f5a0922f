package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/provider"
)

// StreamJSON decodes a JSON array of flat objects, sending one record per
// element. Numbers keep their literal text. Both channels are closed when
// decoding completes.
func StreamJSON(ctx context.Context, r io.Reader) (<-chan provider.Record, <-chan error) {
	outCh := make(chan provider.Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)
		decoder.UseNumber()

		tok, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var obj map[string]any
			if err := decoder.Decode(&obj); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- provider.FromJSON(obj):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && !errors.Is(err, io.EOF) {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// ReadJSON collects every record of a JSON array.
func ReadJSON(ctx context.Context, r io.Reader) ([]provider.Record, error) {
	return collect(StreamJSON(ctx, r))
}
