package history

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report is a filtered view of the history with the sums of its entries.
type Report struct {
	Entries        []Entry         `json:"cupons"`
	TotalActive    decimal.Decimal `json:"total_ativos"`
	TotalCancelled decimal.Decimal `json:"total_cancelados"`
	Total          decimal.Decimal `json:"total_geral"`
	Count          int             `json:"quantidade"`
}

// Report selects entries issued within [from, to] with the given status. A zero
// bound or an empty status does not filter.
func (s *Store) Report(from, to time.Time, status Status) (Report, error) {
	entries, err := s.List(0)
	if err != nil {
		return Report{}, err
	}

	r := Report{Entries: []Entry{}}
	for _, e := range entries {
		if status != "" && e.Status != status {
			continue
		}

		t, err := e.Time()
		if err != nil {
			logger.WithError(err).Warn("skipping entry in report")
			continue
		}
		if !from.IsZero() && t.Before(from) {
			continue
		}
		if !to.IsZero() && t.After(to) {
			continue
		}

		total, err := decimal.NewFromString(e.Total)
		if err != nil {
			logger.WithError(err).WithField("id", e.ID).Warn("entry with unreadable total")
			total = decimal.Zero
		}

		r.Entries = append(r.Entries, e)
		if e.Status == Cancelled {
			r.TotalCancelled = r.TotalCancelled.Add(total)
		} else {
			r.TotalActive = r.TotalActive.Add(total)
		}
	}

	r.Total = r.TotalActive.Add(r.TotalCancelled)
	r.Count = len(r.Entries)
	return r, nil
}

// CloseDay reports every receipt of the calendar day of day, in day's location.
func (s *Store) CloseDay(day time.Time) (Report, error) {
	from, to := DayBounds(day)
	return s.Report(from, to, "")
}

// DayBounds returns 00:00:00 and 23:59:59.999999 of day.
func DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	to := time.Date(y, m, d, 23, 59, 59, 999999000, day.Location())
	return from, to
}
