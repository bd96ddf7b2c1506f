package reconcile

import (
	"context"
	"fmt"
	"sort"
)

// Date coverage states.
const (
	StateComplete = "complete"
	StatePartial  = "partial"
	StateMissing  = "missing"
)

// DateStatus is the expected-vs-actual coverage for one settlement date.
type DateStatus struct {
	Date       string
	Expected   int64
	Actual     int64
	Completion float64 // percentage
	State      string

	// curtailment totals, filled by Status for incomplete dates so the
	// report shows what the gap is worth
	CurtailedMWh float64
	PaymentGBP   float64
}

// Gap is the number of calculation rows still missing.
func (s DateStatus) Gap() int64 {
	if s.Actual >= s.Expected {
		return 0
	}
	return s.Expected - s.Actual
}

// StatusReport is the overall coverage picture across all curtailment dates.
type StatusReport struct {
	Dates         int
	Complete      int
	Partial       int
	Missing       int
	ExpectedTotal int64
	ActualTotal   int64
	Incomplete    []DateStatus // ordered by largest gap first
}

// DateStatus computes coverage for one date: expected is the distinct
// nonzero (period, unit) combinations times the configured profile count,
// actual the calculation rows present.
func (e *Engine) DateStatus(ctx context.Context, date string) (DateStatus, error) {
	combos, err := e.store.CurtailmentCombosForDate(ctx, date)
	if err != nil {
		return DateStatus{}, fmt.Errorf("combos for %s: %w", date, err)
	}

	actual, err := e.store.CountCalculationsForDate(ctx, date)
	if err != nil {
		return DateStatus{}, fmt.Errorf("count calculations for %s: %w", date, err)
	}

	expected := int64(len(combos)) * int64(len(e.calculator.Profiles()))

	status := DateStatus{
		Date:     date,
		Expected: expected,
		Actual:   actual,
	}

	switch {
	case expected == 0 || actual >= expected:
		status.State = StateComplete
		status.Completion = 100
	case actual == 0:
		status.State = StateMissing
		status.Completion = 0
	default:
		status.State = StatePartial
		status.Completion = float64(actual) / float64(expected) * 100
	}

	return status, nil
}

// Status reports coverage across every date with nonzero curtailment,
// incomplete dates ordered by largest gap.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	dates, err := e.store.DistinctCurtailmentDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list curtailment dates: %w", err)
	}

	report := &StatusReport{Dates: len(dates)}

	for _, date := range dates {
		st, err := e.DateStatus(ctx, date)
		if err != nil {
			return nil, err
		}

		report.ExpectedTotal += st.Expected
		report.ActualTotal += st.Actual

		if st.State == StateComplete {
			report.Complete++
			continue
		}

		agg, err := e.store.SumCurtailmentForDate(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("sum curtailment for %s: %w", date, err)
		}
		st.CurtailedMWh = agg.TotalVolumeMWh
		st.PaymentGBP = agg.TotalPaymentGBP

		if st.State == StatePartial {
			report.Partial++
		} else {
			report.Missing++
		}
		report.Incomplete = append(report.Incomplete, st)
	}

	sort.Slice(report.Incomplete, func(i, j int) bool {
		if report.Incomplete[i].Gap() != report.Incomplete[j].Gap() {
			return report.Incomplete[i].Gap() > report.Incomplete[j].Gap()
		}
		return report.Incomplete[i].Date < report.Incomplete[j].Date
	})

	return report, nil
}
