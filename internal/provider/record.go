// Package provider normalizes raw provider records into Property, Owner and
// Loan drafts.
package provider

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Record is one raw provider row keyed by provider field name.
type Record map[string]string

// Kind is the coercion applied to a provider field.
type Kind int

// Field kinds.
const (
	KindText Kind = iota
	KindMoney
	KindPercent
	KindRate
	KindInt
	KindDecimal
	KindBool
	KindDate
)

// Field names as the provider spells them.
const (
	FieldRadarID          = "RadarID"
	FieldAPN              = "APN"
	FieldAddress          = "Address"
	FieldCity             = "City"
	FieldState            = "State"
	FieldZip              = "ZipFive"
	FieldCounty           = "County"
	FieldPropertyType     = "PType"
	FieldYearBuilt        = "YearBuilt"
	FieldBeds             = "Beds"
	FieldBaths            = "Baths"
	FieldSqFt             = "SqFt"
	FieldAVM              = "AVM"
	FieldAvailableEquity  = "AvailableEquity"
	FieldEquityPercent    = "EquityPercent"
	FieldTotalLoanBalance = "TotalLoanBalance"
	FieldAnnualTaxes      = "AnnualTaxes"
	FieldInForeclosure    = "inForeclosure"
	FieldForeclosureStage = "ForeclosureStage"
	FieldListedForSale    = "isListedForSale"

	FieldOwner           = "Owner"
	FieldOwnerFirstName  = "OwnerFirstName"
	FieldOwnerLastName   = "OwnerLastName"
	FieldSpouseFirstName = "OwnerSpouseFirstName"
	FieldSpouseLastName  = "OwnerSpouseLastName"
	FieldOwnerType       = "OwnerType"
	FieldHasPhone        = "PhoneAvailability"
	FieldHasEmail        = "EmailAvailability"
	FieldMailAddress     = "MailAddress"
	FieldMailCity        = "MailCity"
	FieldMailState       = "MailState"
	FieldMailZip         = "MailZip"
	FieldOwnerID         = "OwnerID"

	FieldFirstAmount      = "FirstAmount"
	FieldFirstRate        = "FirstRate"
	FieldFirstRateType    = "FirstRateType"
	FieldFirstLoanType    = "FirstLoanType"
	FieldFirstDate        = "FirstDate"
	FieldFirstLender      = "FirstLender"
	FieldSecondAmount     = "SecondAmount"
	FieldSecondRate       = "SecondRate"
	FieldSecondRateType   = "SecondRateType"
	FieldSecondLoanType   = "SecondLoanType"
	FieldSecondDate       = "SecondDate"
	FieldLTV              = "LTV"
	FieldEstimatedPayment = "EstimatedPayment"
)

// Fields is the complete provider vocabulary. Normalize reads every entry;
// anything else in a record is reported by UnknownFields.
var Fields = map[string]Kind{
	FieldRadarID:          KindText,
	FieldAPN:              KindText,
	FieldAddress:          KindText,
	FieldCity:             KindText,
	FieldState:            KindText,
	FieldZip:              KindText,
	FieldCounty:           KindText,
	FieldPropertyType:     KindText,
	FieldYearBuilt:        KindInt,
	FieldBeds:             KindInt,
	FieldBaths:            KindDecimal,
	FieldSqFt:             KindInt,
	FieldAVM:              KindMoney,
	FieldAvailableEquity:  KindMoney,
	FieldEquityPercent:    KindPercent,
	FieldTotalLoanBalance: KindMoney,
	FieldAnnualTaxes:      KindMoney,
	FieldInForeclosure:    KindBool,
	FieldForeclosureStage: KindText,
	FieldListedForSale:    KindBool,

	FieldOwner:           KindText,
	FieldOwnerFirstName:  KindText,
	FieldOwnerLastName:   KindText,
	FieldSpouseFirstName: KindText,
	FieldSpouseLastName:  KindText,
	FieldOwnerType:       KindText,
	FieldHasPhone:        KindBool,
	FieldHasEmail:        KindBool,
	FieldMailAddress:     KindText,
	FieldMailCity:        KindText,
	FieldMailState:       KindText,
	FieldMailZip:         KindText,
	FieldOwnerID:         KindInt,

	FieldFirstAmount:      KindMoney,
	FieldFirstRate:        KindRate,
	FieldFirstRateType:    KindText,
	FieldFirstLoanType:    KindText,
	FieldFirstDate:        KindDate,
	FieldFirstLender:      KindText,
	FieldSecondAmount:     KindMoney,
	FieldSecondRate:       KindRate,
	FieldSecondRateType:   KindText,
	FieldSecondLoanType:   KindText,
	FieldSecondDate:       KindDate,
	FieldLTV:              KindPercent,
	FieldEstimatedPayment: KindMoney,
}

var canonicalFields = func() map[string]string {
	m := make(map[string]string, len(Fields))
	for name := range Fields {
		m[canonicalKey(name)] = name
	}
	return m
}()

// canonicalKey folds header spellings such as "Radar ID", "radar_id" and
// "RadarID" onto one key.
func canonicalKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Canonicalize returns a copy of r with keys renamed to the provider's
// spelling where they are recognized. Unrecognized keys are kept as is.
func Canonicalize(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if name, ok := canonicalFields[canonicalKey(k)]; ok {
			out[name] = v
			continue
		}
		out[k] = v
	}
	return out
}

// UnknownFields lists the keys of r that are not in Fields, sorted.
func UnknownFields(r Record) []string {
	var unknown []string
	for k := range r {
		if _, ok := canonicalFields[canonicalKey(k)]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// FromRow zips a header row and a data row into a Record. Extra cells
// beyond the header are dropped.
func FromRow(header, row []string) Record {
	r := make(Record, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			continue
		}
		if i < len(row) {
			r[h] = row[i]
		} else {
			r[h] = ""
		}
	}
	return r
}

// FromJSON flattens a decoded JSON object into a Record. Numbers keep their
// literal text, booleans become "true"/"false", null becomes "", and nested
// values are kept as compact JSON.
func FromJSON(obj map[string]any) Record {
	r := make(Record, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
			r[k] = ""
		case string:
			r[k] = val
		case bool:
			r[k] = strconv.FormatBool(val)
		case json.Number:
			r[k] = val.String()
		case float64:
			r[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			b, err := json.Marshal(val)
			if err == nil {
				r[k] = string(b)
			}
		}
	}
	return r
}
