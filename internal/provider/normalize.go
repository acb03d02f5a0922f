package provider

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
)

// ErrMissingIdentifier is returned when a record has no RadarID.
var ErrMissingIdentifier = eris.New("provider: record has no RadarID")

// Issue is a field that was nulled or floored during coercion.
type Issue struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

// Draft is a normalized record ready for reconciliation. Entity IDs and
// timestamps are left for the store.
type Draft struct {
	Property model.Property
	Owners   []model.Owner
	// Loan is nil when the record carries no lien data.
	Loan *model.Loan
	// OwnerID is set when the caller names an existing owner to update.
	OwnerID *int64
	Issues  []Issue
}

// RadarID returns the record's external identifier.
func (d *Draft) RadarID() string {
	return d.Property.RadarID
}

type normalizer struct {
	rec    Record
	issues []Issue
	seen   map[string]bool
}

func (n *normalizer) raw(field string) string {
	if n.seen != nil {
		n.seen[field] = true
	}
	return n.rec[field]
}

func (n *normalizer) issue(field, class string, err error) {
	n.issues = append(n.issues, Issue{
		Field:   field,
		Value:   n.rec[field],
		Class:   class,
		Message: err.Error(),
	})
}

func (n *normalizer) text(field string) *string {
	return Text(n.raw(field))
}

func (n *normalizer) upper(field string) *string {
	v := n.text(field)
	if v != nil {
		u := strings.ToUpper(*v)
		v = &u
	}
	return v
}

func (n *normalizer) name(field string) *string {
	v := n.text(field)
	if v != nil {
		c := CleanName(*v)
		v = &c
	}
	return v
}

func (n *normalizer) money(field string) *float64 {
	v, err := Money(n.raw(field))
	if err != nil {
		n.issue(field, ClassTypeCoercion, err)
	}
	return v
}

func (n *normalizer) percent(field string) *float64 {
	v, err := Percent(n.raw(field))
	if err != nil {
		n.issue(field, ClassTypeCoercion, err)
	}
	return v
}

func (n *normalizer) rate(field string) float64 {
	v, err := Rate(n.raw(field))
	if err != nil {
		n.issue(field, ClassTypeCoercion, err)
	}
	return v
}

func (n *normalizer) integer(field string) *int {
	v, err := Int(n.raw(field))
	if err != nil {
		n.issue(field, ClassTypeCoercion, err)
	}
	return v
}

func (n *normalizer) decimal(field string) *float64 {
	v, err := Decimal(n.raw(field))
	if err != nil {
		n.issue(field, ClassTypeCoercion, err)
	}
	return v
}

func (n *normalizer) flag(field string) *bool {
	v, err := Bool(n.raw(field))
	if err != nil {
		n.issue(field, ClassTypeCoercion, err)
	}
	return v
}

func (n *normalizer) date(field string) *time.Time {
	v, err := Date(n.raw(field))
	if err != nil {
		n.issue(field, ClassMalformedDate, err)
	}
	return v
}

// Normalize coerces a provider record into entity drafts. Malformed fields
// are nulled and reported as issues; only a missing RadarID rejects the
// record.
func Normalize(rec Record, providerID string) (*Draft, error) {
	return normalize(rec, providerID, nil)
}

func normalize(rec Record, providerID string, seen map[string]bool) (*Draft, error) {
	n := &normalizer{rec: Canonicalize(rec), seen: seen}

	radarID := n.text(FieldRadarID)
	if radarID == nil {
		return nil, ErrMissingIdentifier
	}

	d := &Draft{
		Property: n.property(*radarID, providerID),
		Owners:   n.owners(),
		Loan:     n.loan(),
	}
	if id := n.integer(FieldOwnerID); id != nil && *id > 0 {
		ownerID := int64(*id)
		d.OwnerID = &ownerID
	}
	d.Issues = n.issues
	return d, nil
}

func (n *normalizer) property(radarID, providerID string) model.Property {
	return model.Property{
		RadarID:          radarID,
		ProviderID:       providerID,
		APN:              n.text(FieldAPN),
		Address:          n.text(FieldAddress),
		City:             n.text(FieldCity),
		State:            n.upper(FieldState),
		Zip:              n.text(FieldZip),
		County:           n.text(FieldCounty),
		PropertyType:     n.text(FieldPropertyType),
		YearBuilt:        n.integer(FieldYearBuilt),
		Bedrooms:         n.integer(FieldBeds),
		Bathrooms:        n.decimal(FieldBaths),
		SquareFeet:       n.integer(FieldSqFt),
		EstimatedValue:   n.money(FieldAVM),
		AvailableEquity:  n.money(FieldAvailableEquity),
		EquityPercent:    n.percent(FieldEquityPercent),
		TotalLoanBalance: n.money(FieldTotalLoanBalance),
		AnnualTaxes:      n.money(FieldAnnualTaxes),
		InForeclosure:    n.flag(FieldInForeclosure),
		ForeclosureStage: n.text(FieldForeclosureStage),
		IsListedForSale:  n.flag(FieldListedForSale),
		IsActive:         true,
	}
}

// owners builds the primary owner and, when spouse names are present, a
// spouse sharing the mailing address.
func (n *normalizer) owners() []model.Owner {
	first := n.name(FieldOwnerFirstName)
	last := n.name(FieldOwnerLastName)
	full := n.name(FieldOwner)
	spouseFirst := n.name(FieldSpouseFirstName)
	spouseLast := n.name(FieldSpouseLastName)
	ownerType := n.upper(FieldOwnerType)
	hasPhone := n.flag(FieldHasPhone)
	hasEmail := n.flag(FieldHasEmail)
	mailAddress := n.text(FieldMailAddress)
	mailCity := n.text(FieldMailCity)
	mailState := n.upper(FieldMailState)
	mailZip := n.text(FieldMailZip)

	if full == nil {
		full = joinName(first, last)
	}
	if full == nil {
		return nil
	}

	primaryType := model.OwnerTypePrimary
	if ownerType != nil && *ownerType != string(model.OwnerTypePrimary) && *ownerType != "INDIVIDUAL" {
		primaryType = model.OwnerTypeOther
	}

	owners := []model.Owner{{
		FirstName:        first,
		LastName:         last,
		FullName:         full,
		OwnerType:        primaryType,
		IsPrimaryContact: true,
		HasPhone:         hasPhone != nil && *hasPhone,
		HasEmail:         hasEmail != nil && *hasEmail,
		MailAddress:      mailAddress,
		MailCity:         mailCity,
		MailState:        mailState,
		MailZip:          mailZip,
		IsActive:         true,
	}}

	if spouseFirst != nil || spouseLast != nil {
		if spouseLast == nil {
			spouseLast = last
		}
		owners = append(owners, model.Owner{
			FirstName:   spouseFirst,
			LastName:    spouseLast,
			FullName:    joinName(spouseFirst, spouseLast),
			OwnerType:   model.OwnerTypeSpouse,
			MailAddress: mailAddress,
			MailCity:    mailCity,
			MailState:   mailState,
			MailZip:     mailZip,
			IsActive:    true,
		})
	}
	return owners
}

// loan consolidates both liens into one row. It returns nil when no lien
// field carries a value.
func (n *normalizer) loan() *model.Loan {
	l := &model.Loan{
		FirstAmount:      n.money(FieldFirstAmount),
		FirstRate:        n.rate(FieldFirstRate),
		FirstRateType:    n.text(FieldFirstRateType),
		FirstLoanType:    n.text(FieldFirstLoanType),
		FirstDate:        n.date(FieldFirstDate),
		FirstLender:      n.text(FieldFirstLender),
		SecondAmount:     n.money(FieldSecondAmount),
		SecondRate:       n.rate(FieldSecondRate),
		SecondRateType:   n.text(FieldSecondRateType),
		SecondLoanType:   n.text(FieldSecondLoanType),
		SecondDate:       n.date(FieldSecondDate),
		LTV:              n.percent(FieldLTV),
		EstimatedPayment: n.money(FieldEstimatedPayment),
		IsActive:         true,
	}
	l.TotalBalance = sumBalance(l.FirstAmount, l.SecondAmount)
	if tb, err := Money(n.rec[FieldTotalLoanBalance]); err == nil && tb != nil {
		l.TotalBalance = tb
	}

	hasLien := l.FirstAmount != nil || l.SecondAmount != nil ||
		l.FirstRate > 0 || l.SecondRate > 0 ||
		l.FirstLoanType != nil || l.SecondLoanType != nil ||
		l.FirstDate != nil || l.SecondDate != nil ||
		l.FirstLender != nil || l.EstimatedPayment != nil
	if !hasLien {
		return nil
	}
	return l
}

func sumBalance(a, b *float64) *float64 {
	if a == nil && b == nil {
		return nil
	}
	var total float64
	if a != nil {
		total += *a
	}
	if b != nil {
		total += *b
	}
	return &total
}
