package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Property columns written by upsert, in argument order.
var propertyDataColumns = []string{
	"radar_id", "provider_id", "apn", "address", "city", "state", "zip", "county",
	"property_type", "year_built", "bedrooms", "bathrooms", "square_feet",
	"estimated_value", "available_equity", "equity_percent", "total_loan_balance",
	"annual_taxes", "in_foreclosure", "foreclosure_stage", "is_listed_for_sale",
}

const propertyColumns = `property_id, radar_id, provider_id, apn, address, city, state, zip, county,
	property_type, year_built, bedrooms, bathrooms, square_feet,
	estimated_value, available_equity, equity_percent, total_loan_balance,
	annual_taxes, in_foreclosure, foreclosure_stage, is_listed_for_sale,
	is_active, created_at, updated_at`

func propertyArgs(p *model.Property) []any {
	return []any{
		p.RadarID, p.ProviderID, p.APN, p.Address, p.City, p.State, p.Zip, p.County,
		p.PropertyType, p.YearBuilt, p.Bedrooms, p.Bathrooms, p.SquareFeet,
		p.EstimatedValue, p.AvailableEquity, p.EquityPercent, p.TotalLoanBalance,
		p.AnnualTaxes, p.InForeclosure, p.ForeclosureStage, p.IsListedForSale,
	}
}

func propertyDest(p *model.Property) []any {
	return []any{
		&p.ID, &p.RadarID, &p.ProviderID, &p.APN, &p.Address, &p.City, &p.State, &p.Zip, &p.County,
		&p.PropertyType, &p.YearBuilt, &p.Bedrooms, &p.Bathrooms, &p.SquareFeet,
		&p.EstimatedValue, &p.AvailableEquity, &p.EquityPercent, &p.TotalLoanBalance,
		&p.AnnualTaxes, &p.InForeclosure, &p.ForeclosureStage, &p.IsListedForSale,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	}
}

// propertyUpsertSQL builds the radar_id upsert. Provided values replace
// stored ones; nulls keep what is stored. is_active and created_at are
// only written on insert.
func propertyUpsertSQL(placeholder func(int) string) string {
	vals := make([]string, 0, len(propertyDataColumns)+3)
	sets := make([]string, 0, len(propertyDataColumns))
	for i, col := range propertyDataColumns {
		vals = append(vals, placeholder(i+1))
		switch col {
		case "radar_id":
		case "provider_id":
			sets = append(sets, "provider_id = excluded.provider_id")
		default:
			sets = append(sets, fmt.Sprintf("%s = COALESCE(excluded.%s, properties.%s)", col, col, col))
		}
	}
	ts := placeholder(len(propertyDataColumns) + 1)
	vals = append(vals, "TRUE", ts, ts)
	sets = append(sets, "updated_at = excluded.updated_at")

	return fmt.Sprintf(`INSERT INTO properties (%s, is_active, created_at, updated_at)
VALUES (%s)
ON CONFLICT (radar_id) DO UPDATE SET
	%s`,
		strings.Join(propertyDataColumns, ", "),
		strings.Join(vals, ", "),
		strings.Join(sets, ",\n\t"),
	)
}

const ownerColumns = `owner_id, property_id, first_name, last_name, full_name, owner_type,
	is_primary_contact, has_phone, has_email, mail_address, mail_city, mail_state, mail_zip,
	is_active, created_at, updated_at`

func ownerDest(o *model.Owner) []any {
	return []any{
		&o.ID, &o.PropertyID, &o.FirstName, &o.LastName, &o.FullName, &o.OwnerType,
		&o.IsPrimaryContact, &o.HasPhone, &o.HasEmail, &o.MailAddress, &o.MailCity, &o.MailState, &o.MailZip,
		&o.IsActive, &o.CreatedAt, &o.UpdatedAt,
	}
}

const loanColumns = `loan_id, property_id, first_amount, first_rate, first_rate_type, first_loan_type,
	first_date, first_lender, second_amount, second_rate, second_rate_type, second_loan_type,
	second_date, total_balance, ltv, estimated_payment, is_active, created_at, updated_at`

// loanArgs returns the lien values in loanColumns order, first_amount
// through estimated_payment.
func loanArgs(l *model.Loan) []any {
	return []any{
		l.FirstAmount, l.FirstRate, l.FirstRateType, l.FirstLoanType,
		l.FirstDate, l.FirstLender, l.SecondAmount, l.SecondRate, l.SecondRateType, l.SecondLoanType,
		l.SecondDate, l.TotalBalance, l.LTV, l.EstimatedPayment,
	}
}

func loanDest(l *model.Loan) []any {
	return []any{
		&l.ID, &l.PropertyID, &l.FirstAmount, &l.FirstRate, &l.FirstRateType, &l.FirstLoanType,
		&l.FirstDate, &l.FirstLender, &l.SecondAmount, &l.SecondRate, &l.SecondRateType, &l.SecondLoanType,
		&l.SecondDate, &l.TotalBalance, &l.LTV, &l.EstimatedPayment, &l.IsActive, &l.CreatedAt, &l.UpdatedAt,
	}
}

// nullableLoan receives the columns of a LEFT JOINed loan.
type nullableLoan struct {
	id, propertyID        *int64
	firstRate, secondRate *float64
	isActive              *bool
	createdAt, updatedAt  *time.Time
	l                     model.Loan
}

func (n *nullableLoan) dest() []any {
	l := &n.l
	return []any{
		&n.id, &n.propertyID, &l.FirstAmount, &n.firstRate, &l.FirstRateType, &l.FirstLoanType,
		&l.FirstDate, &l.FirstLender, &l.SecondAmount, &n.secondRate, &l.SecondRateType, &l.SecondLoanType,
		&l.SecondDate, &l.TotalBalance, &l.LTV, &l.EstimatedPayment, &n.isActive, &n.createdAt, &n.updatedAt,
	}
}

func (n *nullableLoan) loan() *model.Loan {
	if n.id == nil {
		return nil
	}
	l := n.l
	l.ID = *n.id
	l.PropertyID = deref(n.propertyID)
	l.FirstRate = deref(n.firstRate)
	l.SecondRate = deref(n.secondRate)
	l.IsActive = deref(n.isActive)
	l.CreatedAt = deref(n.createdAt)
	l.UpdatedAt = deref(n.updatedAt)
	return &l
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// unitSelect lists unit columns; criteria is read as text in both backends.
func unitSelect(criteria string) string {
	return `unit_id, kind, name, source_path, ` + criteria + `, campaign_id, provider_id, status,
	priority, parent_id, is_parent, batch_number, batch_offset, batch_size,
	properties_count, processed_records, success_count, error_count, error_details,
	claimed_by, claim_token, created_at, started_at, requeued_at, processed_at, updated_at`
}

func scanUnit(row scanner) (*model.IngestionUnit, error) {
	var u model.IngestionUnit
	var criteria *string
	err := row.Scan(
		&u.ID, &u.Kind, &u.Name, &u.SourcePath, &criteria, &u.CampaignID, &u.ProviderID, &u.Status,
		&u.Priority, &u.ParentID, &u.IsParent, &u.BatchNumber, &u.Offset, &u.Size,
		&u.PropertiesCount, &u.ProcessedRecords, &u.SuccessCount, &u.ErrorCount, &u.ErrorDetails,
		&u.ClaimedBy, &u.ClaimToken, &u.CreatedAt, &u.StartedAt, &u.RequeuedAt, &u.ProcessedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if criteria != nil {
		u.Criteria = []byte(*criteria)
	}
	return &u, nil
}

func criteriaArg(u *model.IngestionUnit) *string {
	if len(u.Criteria) == 0 {
		return nil
	}
	s := string(u.Criteria)
	return &s
}

const unitLogColumns = `log_id, unit_id, level, radar_id, error_class, message, created_at`

func scanUnitLog(row scanner) (model.UnitLog, error) {
	var l model.UnitLog
	err := row.Scan(&l.ID, &l.UnitID, &l.Level, &l.RadarID, &l.ErrorClass, &l.Message, &l.CreatedAt)
	return l, err
}

const dnmColumns = `dnm_id, loan_id, property_id, radar_id, reason, source, blocked_by, blocked_at,
	is_active, removed_by, removed_at`

func scanDnm(row scanner) (*model.DnmEntry, error) {
	var e model.DnmEntry
	err := row.Scan(&e.ID, &e.LoanID, &e.PropertyID, &e.RadarID, &e.Reason, &e.Source, &e.BlockedBy,
		&e.BlockedAt, &e.IsActive, &e.RemovedBy, &e.RemovedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const campaignColumns = `campaign_id, name, mail_date, created_at`

var recipientColumns = []string{
	"campaign_id", "generation_id", "property_id", "owner_id", "loan_id", "radar_id",
	"owner_name", "mail_address", "mail_city", "mail_state", "mail_zip",
	"address", "city", "state", "zip", "loan_balance", "loan_rate",
	"close_month", "skip_month", "next_pay_month", "mail_date", "created_at",
}

func recipientRow(r *model.CampaignRecipient, createdAt time.Time) []any {
	return []any{
		r.CampaignID, r.GenerationID.String(), r.PropertyID, r.OwnerID, r.LoanID, r.RadarID,
		r.OwnerName, r.MailAddress, r.MailCity, r.MailState, r.MailZip,
		r.Address, r.City, r.State, r.Zip, r.LoanBalance, r.LoanRate,
		r.CloseMonth, r.SkipMonth, r.NextPayMonth, r.MailDate, createdAt,
	}
}

func parseGeneration(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	return id, eris.Wrap(err, "store: parse generation id")
}

// candidateSelect joins each active property with its active primary
// contact and its active consolidated loan, if any.
const candidateSelect = `SELECT ` +
	`p.property_id, p.radar_id, p.provider_id, p.apn, p.address, p.city, p.state, p.zip, p.county,
	p.property_type, p.year_built, p.bedrooms, p.bathrooms, p.square_feet,
	p.estimated_value, p.available_equity, p.equity_percent, p.total_loan_balance,
	p.annual_taxes, p.in_foreclosure, p.foreclosure_stage, p.is_listed_for_sale,
	p.is_active, p.created_at, p.updated_at,
	o.owner_id, o.property_id, o.first_name, o.last_name, o.full_name, o.owner_type,
	o.is_primary_contact, o.has_phone, o.has_email, o.mail_address, o.mail_city, o.mail_state, o.mail_zip,
	o.is_active, o.created_at, o.updated_at,
	l.loan_id, l.property_id, l.first_amount, l.first_rate, l.first_rate_type, l.first_loan_type,
	l.first_date, l.first_lender, l.second_amount, l.second_rate, l.second_rate_type, l.second_loan_type,
	l.second_date, l.total_balance, l.ltv, l.estimated_payment, l.is_active, l.created_at, l.updated_at
FROM properties p
JOIN owners o ON o.property_id = p.property_id AND o.is_active AND o.is_primary_contact
LEFT JOIN loans l ON l.property_id = p.property_id AND l.is_active
WHERE p.is_active`

func scanCandidate(row scanner) (model.Candidate, error) {
	var c model.Candidate
	var nl nullableLoan
	dest := append(propertyDest(&c.Property), ownerDest(&c.Owner)...)
	dest = append(dest, nl.dest()...)
	if err := row.Scan(dest...); err != nil {
		return c, err
	}
	c.Loan = nl.loan()
	return c, nil
}

// builder assembles dynamic SQL with dialect-specific placeholders.
type builder struct {
	placeholder func(int) string
	sql         strings.Builder
	args        []any
}

func newBuilder(placeholder func(int) string, base string) *builder {
	b := &builder{placeholder: placeholder}
	b.sql.WriteString(base)
	return b
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.placeholder(len(b.args))
}

func (b *builder) add(format string, vals ...any) *builder {
	ph := make([]any, len(vals))
	for i, v := range vals {
		ph[i] = b.arg(v)
	}
	b.sql.WriteString(fmt.Sprintf(format, ph...))
	return b
}

func (b *builder) list(vals []any) string {
	ph := make([]string, len(vals))
	for i, v := range vals {
		ph[i] = b.arg(v)
	}
	return "(" + strings.Join(ph, ", ") + ")"
}

func (b *builder) String() string {
	return b.sql.String()
}

func pgPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func sqlitePlaceholder(int) string {
	return "?"
}

func anySlice[T any](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func unitsQuery(placeholder func(int) string, columns string, filter UnitFilter) *builder {
	if filter.ParentID != nil {
		return unitsChildrenQuery(placeholder, columns, filter)
	}
	b := newBuilder(placeholder, `SELECT `+columns+` FROM ingestion_units WHERE 1=1`)
	if filter.Status != "" {
		b.add(` AND status = %s`, string(filter.Status))
	}
	if filter.Kind != "" {
		b.add(` AND kind = %s`, string(filter.Kind))
	}
	b.sql.WriteString(` ORDER BY created_at DESC, unit_id DESC`)
	b.add(` LIMIT %s`, pageLimit(filter.Limit))
	if filter.Offset > 0 {
		b.add(` OFFSET %s`, filter.Offset)
	}
	return b
}

// unitsChildrenQuery lists all children of a parent in batch order, with no
// page limit, since parent recomputation needs every child.
func unitsChildrenQuery(placeholder func(int) string, columns string, filter UnitFilter) *builder {
	b := newBuilder(placeholder, `SELECT `+columns+` FROM ingestion_units WHERE 1=1`)
	b.add(` AND parent_id = %s`, *filter.ParentID)
	if filter.Status != "" {
		b.add(` AND status = %s`, string(filter.Status))
	}
	b.sql.WriteString(` ORDER BY batch_number, unit_id`)
	return b
}

func dnmQuery(placeholder func(int) string, filter DnmFilter) *builder {
	b := newBuilder(placeholder, `SELECT `+dnmColumns+` FROM dnm_registry WHERE 1=1`)
	if filter.Visibility == model.ActiveOnly {
		b.sql.WriteString(` AND is_active`)
	}
	if filter.LoanID != nil {
		b.add(` AND loan_id = %s`, *filter.LoanID)
	}
	if filter.PropertyID != nil {
		b.add(` AND property_id = %s`, *filter.PropertyID)
	}
	if filter.RadarID != "" {
		b.add(` AND radar_id = %s`, filter.RadarID)
	}
	if filter.Source != "" {
		b.add(` AND source = %s`, filter.Source)
	}
	if filter.BlockedBy != "" {
		b.add(` AND blocked_by = %s`, filter.BlockedBy)
	}
	b.sql.WriteString(` ORDER BY dnm_id`)
	b.add(` LIMIT %s`, pageLimit(filter.Limit))
	if filter.Offset > 0 {
		b.add(` OFFSET %s`, filter.Offset)
	}
	return b
}

// dnmCountQuery counts active entries matching any supplied identifier.
func dnmCountQuery(placeholder func(int) string, ids model.Identifiers) *builder {
	b := newBuilder(placeholder, `SELECT COUNT(*) FROM dnm_registry WHERE is_active AND (`)
	var clauses []string
	if ids.LoanID != nil {
		clauses = append(clauses, `loan_id = `+b.arg(*ids.LoanID))
	}
	if ids.PropertyID != nil {
		clauses = append(clauses, `property_id = `+b.arg(*ids.PropertyID))
	}
	if ids.RadarID != nil && *ids.RadarID != "" {
		clauses = append(clauses, `radar_id = `+b.arg(*ids.RadarID))
	}
	b.sql.WriteString(strings.Join(clauses, ` OR `) + `)`)
	return b
}

// dnmMatchQuery finds active entries on any of the probe's identifiers.
func dnmMatchQuery(placeholder func(int) string, keys DnmKeys) *builder {
	b := newBuilder(placeholder, `SELECT `+dnmColumns+` FROM dnm_registry WHERE is_active AND (`)
	var clauses []string
	if len(keys.LoanIDs) > 0 {
		clauses = append(clauses, `loan_id IN `+b.list(anySlice(keys.LoanIDs)))
	}
	if len(keys.PropertyIDs) > 0 {
		clauses = append(clauses, `property_id IN `+b.list(anySlice(keys.PropertyIDs)))
	}
	if len(keys.RadarIDs) > 0 {
		clauses = append(clauses, `radar_id IN `+b.list(anySlice(keys.RadarIDs)))
	}
	b.sql.WriteString(strings.Join(clauses, ` OR `) + `) ORDER BY dnm_id`)
	return b
}

func candidatesQuery(placeholder func(int) string, filter CandidateFilter) *builder {
	b := newBuilder(placeholder, candidateSelect)
	if filter.State != "" {
		b.add(` AND p.state = %s`, strings.ToUpper(filter.State))
	}
	if filter.MinEquityPercent != nil {
		b.add(` AND p.equity_percent >= %s`, *filter.MinEquityPercent)
	}
	if len(filter.RadarIDs) > 0 {
		b.sql.WriteString(` AND p.radar_id IN ` + b.list(anySlice(filter.RadarIDs)))
	}
	b.sql.WriteString(` ORDER BY p.property_id`)
	if filter.Limit > 0 {
		b.add(` LIMIT %s`, filter.Limit)
	}
	return b
}

func setPurged(c *model.PurgeCounts, table string, n int64) {
	switch table {
	case "property_owner_history":
		c.OwnerHistory = n
	case "property_history":
		c.PropertyHistory = n
	case "loan_history":
		c.LoanHistory = n
	case "campaign_recipients":
		c.Recipients = n
	case "loans":
		c.Loans = n
	case "owners":
		c.Owners = n
	case "properties":
		c.Properties = n
	}
}
