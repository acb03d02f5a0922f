package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailhaus/internal/model"
)

func fullRecord() Record {
	return Record{
		FieldRadarID:          "P1001",
		FieldAPN:              "123-456-789",
		FieldAddress:          "100 Main St",
		FieldCity:             "Austin",
		FieldState:            "tx",
		FieldZip:              "78701",
		FieldCounty:           "Travis",
		FieldPropertyType:     "SFR",
		FieldYearBuilt:        "1998",
		FieldBeds:             "3",
		FieldBaths:            "2.5",
		FieldSqFt:             "1,850",
		FieldAVM:              "$450,000",
		FieldAvailableEquity:  "150000",
		FieldEquityPercent:    "33.3",
		FieldTotalLoanBalance: "300000",
		FieldAnnualTaxes:      "8100",
		FieldInForeclosure:    "0",
		FieldForeclosureStage: "",
		FieldListedForSale:    "1",
		FieldOwner:            "JOHN SMITH",
		FieldOwnerFirstName:   "JOHN",
		FieldOwnerLastName:    "SMITH",
		FieldSpouseFirstName:  "JANE",
		FieldSpouseLastName:   "",
		FieldOwnerType:        "Individual",
		FieldHasPhone:         "1",
		FieldHasEmail:         "0",
		FieldMailAddress:      "PO Box 9",
		FieldMailCity:         "Austin",
		FieldMailState:        "tx",
		FieldMailZip:          "78701",
		FieldOwnerID:          "",
		FieldFirstAmount:      "250000",
		FieldFirstRate:        "3.875",
		FieldFirstRateType:    "Fixed",
		FieldFirstLoanType:    "Conventional",
		FieldFirstDate:        "2019-03-07",
		FieldFirstLender:      "First Bank",
		FieldSecondAmount:     "50000",
		FieldSecondRate:       "7.25",
		FieldSecondRateType:   "Variable",
		FieldSecondLoanType:   "HELOC",
		FieldSecondDate:       "06/01/2021",
		FieldLTV:              "66.67",
		FieldEstimatedPayment: "1850",
	}
}

func TestNormalize_FullRecord(t *testing.T) {
	d, err := Normalize(fullRecord(), "propertyradar")
	require.NoError(t, err)
	assert.Empty(t, d.Issues)

	p := d.Property
	assert.Equal(t, "P1001", p.RadarID)
	assert.Equal(t, "propertyradar", p.ProviderID)
	assert.Equal(t, "TX", *p.State)
	assert.Equal(t, 1850, *p.SquareFeet)
	assert.Equal(t, 450000.0, *p.EstimatedValue)
	assert.True(t, *p.IsListedForSale)
	assert.False(t, *p.InForeclosure)
	assert.Nil(t, p.ForeclosureStage)
	assert.True(t, p.IsActive)

	require.Len(t, d.Owners, 2)
	assert.Equal(t, "John Smith", *d.Owners[0].FullName)
	assert.Equal(t, model.OwnerTypePrimary, d.Owners[0].OwnerType)
	assert.True(t, d.Owners[0].IsPrimaryContact)
	assert.True(t, d.Owners[0].HasPhone)
	assert.Equal(t, "Jane Smith", *d.Owners[1].FullName)
	assert.Equal(t, model.OwnerTypeSpouse, d.Owners[1].OwnerType)
	assert.False(t, d.Owners[1].IsPrimaryContact)
	assert.Equal(t, "TX", *d.Owners[1].MailState)

	require.NotNil(t, d.Loan)
	assert.Equal(t, 250000.0, *d.Loan.FirstAmount)
	assert.InDelta(t, 3.875, d.Loan.FirstRate, 1e-9)
	assert.Equal(t, 300000.0, *d.Loan.TotalBalance)
	assert.True(t, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC).Equal(*d.Loan.SecondDate))
	assert.Nil(t, d.OwnerID)
}

func TestNormalize_ReadsEveryKnownField(t *testing.T) {
	seen := map[string]bool{}
	_, err := normalize(fullRecord(), "propertyradar", seen)
	require.NoError(t, err)

	for name := range Fields {
		assert.True(t, seen[name], "field %s is mapped but never read", name)
	}
	for name := range seen {
		_, ok := Fields[name]
		assert.True(t, ok, "field %s is read but not mapped", name)
	}
	assert.Len(t, fullRecord(), len(Fields))
}

func TestNormalize_MissingRadarID(t *testing.T) {
	_, err := Normalize(Record{FieldAddress: "1 Elm"}, "propertyradar")
	assert.ErrorIs(t, err, ErrMissingIdentifier)

	_, err = Normalize(Record{FieldRadarID: "  "}, "propertyradar")
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestNormalize_InvalidFieldsAreNulledNotRejected(t *testing.T) {
	rec := fullRecord()
	rec[FieldFirstAmount] = "lots"
	rec[FieldEquityPercent] = "1500"
	rec[FieldAVM] = "Other"
	rec[FieldFirstDate] = "31/31/2020"
	rec[FieldSecondRate] = "-3"

	d, err := Normalize(rec, "propertyradar")
	require.NoError(t, err)

	assert.Nil(t, d.Loan.FirstAmount)
	assert.Nil(t, d.Loan.FirstDate)
	assert.Equal(t, 999.99, *d.Property.EquityPercent)
	assert.Nil(t, d.Property.EstimatedValue)
	assert.Zero(t, d.Loan.SecondRate)

	classes := map[string]string{}
	for _, is := range d.Issues {
		classes[is.Field] = is.Class
	}
	assert.Equal(t, map[string]string{
		FieldFirstAmount: ClassTypeCoercion,
		FieldFirstDate:   ClassMalformedDate,
	}, classes)
}

func TestNormalize_NoLienDataMeansNoLoan(t *testing.T) {
	d, err := Normalize(Record{FieldRadarID: "P1", FieldFirstAmount: "N/A", FieldFirstRate: "Unknown"}, "propertyradar")
	require.NoError(t, err)
	assert.Nil(t, d.Loan)
	assert.Empty(t, d.Owners)
}

func TestNormalize_OwnerFromPartsAndCallerOwnerID(t *testing.T) {
	d, err := Normalize(Record{
		FieldRadarID:        "P2",
		FieldOwnerFirstName: "ANA",
		FieldOwnerLastName:  "LOPEZ",
		FieldOwnerType:      "Trust",
		FieldOwnerID:        "77",
	}, "propertyradar")
	require.NoError(t, err)
	require.Len(t, d.Owners, 1)
	assert.Equal(t, "Ana Lopez", *d.Owners[0].FullName)
	assert.Equal(t, model.OwnerTypeOther, d.Owners[0].OwnerType)
	require.NotNil(t, d.OwnerID)
	assert.Equal(t, int64(77), *d.OwnerID)
}

func TestCanonicalizeAndUnknownFields(t *testing.T) {
	rec := Record{"Radar ID": "P3", "zip_five": "10001", "Favorite Color": "blue"}
	c := Canonicalize(rec)
	assert.Equal(t, "P3", c[FieldRadarID])
	assert.Equal(t, "10001", c[FieldZip])
	assert.Equal(t, []string{"Favorite Color"}, UnknownFields(rec))

	d, err := Normalize(rec, "propertyradar")
	require.NoError(t, err)
	assert.Equal(t, "P3", d.RadarID())
}

func TestFromRow(t *testing.T) {
	r := FromRow([]string{"\ufeffRadarID", "City", ""}, []string{"P9"})
	assert.Equal(t, Record{"RadarID": "P9", "City": ""}, r)
}

func TestFromJSON(t *testing.T) {
	r := FromJSON(map[string]any{
		"RadarID":       "P4",
		"AVM":           450000.0,
		"inForeclosure": false,
		"FirstDate":     nil,
		"Tags":          []any{"a"},
	})
	assert.Equal(t, "P4", r["RadarID"])
	assert.Equal(t, "450000", r["AVM"])
	assert.Equal(t, "false", r["inForeclosure"])
	assert.Equal(t, "", r["FirstDate"])
	assert.Equal(t, `["a"]`, r["Tags"])
}
