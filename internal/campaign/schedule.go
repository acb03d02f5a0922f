package campaign

import (
	"time"

	"github.com/sells-group/mailhaus/internal/model"
)

// MailSchedule is the mail-merge timing and loan snapshot for one recipient.
type MailSchedule struct {
	MailDate     time.Time
	CloseMonth   string
	SkipMonth    string
	NextPayMonth string
	LoanBalance  *float64
	LoanRate     float64
}

// Schedule derives the mail-merge fields for a recipient mailed on mailDate.
// A refinance closing in the month after the mail drop skips the next
// month's payment, and the first new payment falls the month after that.
func Schedule(mailDate time.Time, loan *model.Loan) MailSchedule {
	first := time.Date(mailDate.Year(), mailDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	s := MailSchedule{
		MailDate:     mailDate,
		CloseMonth:   first.AddDate(0, 1, 0).Month().String(),
		SkipMonth:    first.AddDate(0, 2, 0).Month().String(),
		NextPayMonth: first.AddDate(0, 3, 0).Month().String(),
	}
	if loan != nil {
		s.LoanRate = loan.FirstRate
		switch {
		case loan.TotalBalance != nil:
			s.LoanBalance = loan.TotalBalance
		case loan.FirstAmount != nil:
			s.LoanBalance = loan.FirstAmount
		}
	}
	return s
}

// NextWeekday returns the first Monday-to-Friday date strictly after t, at
// midnight UTC.
func NextWeekday(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
