package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney(t *testing.T) {
	tests := []struct {
		raw     string
		want    *float64
		wantErr bool
	}{
		{"250000", ptr(250000.0), false},
		{"$1,250,000.50", ptr(1250000.50), false},
		{"  42 ", ptr(42.0), false},
		{"Other", nil, false},
		{"Unknown", nil, false},
		{"N/A", nil, false},
		{"", nil, false},
		{"abc", nil, true},
		{"12..5", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Money(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_SentinelsNeverZero(t *testing.T) {
	for _, raw := range []string{"Other", "Unknown", "other", "UNKNOWN", "None", "-"} {
		got, err := Money(raw)
		require.NoError(t, err)
		assert.Nil(t, got, raw)

		pct, err := Percent(raw)
		require.NoError(t, err)
		assert.Nil(t, pct, raw)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		raw     string
		want    *float64
		wantErr bool
	}{
		{"45.678", ptr(45.68), false},
		{"85%", ptr(85.0), false},
		{"1500", ptr(999.99), false},
		{"-2500", ptr(-999.99), false},
		{"999.99", ptr(999.99), false},
		{"Unknown", nil, false},
		{"lots", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Percent(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRate(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"3.875", 3.875, false},
		{"6.12345", 6.123, false},
		{"150", RateCap, false},
		{"-1.5", 0, false},
		{"Other", 0, false},
		{"", 0, false},
		{"variable", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Rate(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestInt(t *testing.T) {
	got, err := Int("1,850")
	require.NoError(t, err)
	assert.Equal(t, 1850, *got)

	got, err = Int("3.0")
	require.NoError(t, err)
	assert.Equal(t, 3, *got)

	got, err = Int("Unknown")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = Int("99999999999")
	assert.Error(t, err)
}

func TestBool(t *testing.T) {
	for _, raw := range []string{"1", "true", "Yes", "Y"} {
		got, err := Bool(raw)
		require.NoError(t, err)
		assert.True(t, *got, raw)
	}
	for _, raw := range []string{"0", "FALSE", "no"} {
		got, err := Bool(raw)
		require.NoError(t, err)
		assert.False(t, *got, raw)
	}
	got, err := Bool("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = Bool("maybe")
	assert.Error(t, err)
}

func TestDate(t *testing.T) {
	want := time.Date(2019, 3, 7, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2019-03-07", "03/07/2019", "3/7/2019", "20190307", "2019-03-07T10:00:00Z"} {
		got, err := Date(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(*got), raw)
	}

	got, err := Date("Unknown")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = Date("13/45/2019")
	assert.Error(t, err)

	_, err = Date("0001-01-01")
	assert.Error(t, err)
}

func TestText(t *testing.T) {
	assert.Nil(t, Text("   "))
	assert.Nil(t, Text("null"))
	assert.Equal(t, "Other", *Text("Other"))
	assert.Equal(t, "123 Main St", *Text(" 123 Main St "))
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "John Smith", CleanName("JOHN   SMITH"))
	assert.Equal(t, "McDonald", CleanName("McDonald"))
	assert.Equal(t, "", CleanName("  "))
	assert.Equal(t, FoldName("JOHN SMITH"), FoldName("john  smith"))
}

func ptr[T any](v T) *T { return &v }
