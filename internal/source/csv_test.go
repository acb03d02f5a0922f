package source

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_HeaderedRows(t *testing.T) {
	input := "\ufeffRadarID,Address,FirstAmount\nP1,1 Main St,\"$250,000\"\n\n,,\nP2,2 Oak Ave\n"

	records, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "P1", records[0]["RadarID"])
	assert.Equal(t, "$250,000", records[0]["FirstAmount"])
	assert.Equal(t, "", records[1]["FirstAmount"], "short rows pad missing cells")
}

func TestReadCSV_Delimiter(t *testing.T) {
	input := "RadarID|City\nP1|Austin\n"
	records, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Austin", records[0]["City"])
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	assert.ErrorContains(t, err, "missing header")
}

func TestReadCSV_Malformed(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,b\n\"unterminated,1\n"), CSVOptions{})
	assert.ErrorContains(t, err, "csv: read row")
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outCh, errCh := StreamCSV(ctx, strings.NewReader("RadarID\nP1\nP2\n"), CSVOptions{})
	for range outCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
