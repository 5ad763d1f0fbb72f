package reporting

import (
	"time"

	"github.com/clubledger/clubledger/internal/shared"
)

// PeriodPreset names a dashboard time window.
type PeriodPreset string

const (
	PresetYearToDate   PeriodPreset = "YEAR_TO_DATE"
	PresetAllTime      PeriodPreset = "ALL_TIME"
	PresetLast12Months PeriodPreset = "LAST_12_MONTHS"
	PresetCurrentMonth PeriodPreset = "CURRENT_MONTH"
	PresetCustom       PeriodPreset = "CUSTOM"
)

// PeriodRequest selects either a named preset or an explicit custom range.
type PeriodRequest struct {
	Preset PeriodPreset `json:"preset"`
	From   *time.Time   `json:"from,omitempty"`
	To     *time.Time   `json:"to,omitempty"`
}

// Period is a resolved reporting window.
type Period struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Label string    `json:"label"`
}

// ResolvePeriod translates a preset or custom range into concrete bounds.
// Pure and deterministic given now; custom ranges require both bounds with
// from <= to.
func ResolvePeriod(req PeriodRequest, now time.Time) (Period, error) {
	switch req.Preset {
	case PresetYearToDate:
		return Period{
			From:  time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()),
			To:    now,
			Label: "Year to date",
		}, nil
	case PresetAllTime:
		return Period{
			From:  time.Time{},
			To:    now,
			Label: "All time",
		}, nil
	case PresetLast12Months:
		return Period{
			From:  now.AddDate(-1, 0, 0),
			To:    now,
			Label: "Last 12 months",
		}, nil
	case PresetCurrentMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return Period{
			From:  start,
			To:    now,
			Label: start.Format("January 2006"),
		}, nil
	case PresetCustom:
		fields := map[string]string{}
		if req.From == nil {
			fields["from"] = "required for a custom range"
		}
		if req.To == nil {
			fields["to"] = "required for a custom range"
		}
		if len(fields) > 0 {
			return Period{}, shared.NewValidationError("incomplete custom range", fields)
		}
		if req.From.After(*req.To) {
			return Period{}, shared.NewValidationError("invalid custom range", map[string]string{
				"from": "must not be after to",
			})
		}
		return Period{
			From:  *req.From,
			To:    *req.To,
			Label: req.From.Format("2006-01-02") + " to " + req.To.Format("2006-01-02"),
		}, nil
	default:
		return Period{}, shared.NewValidationError("unknown period preset", map[string]string{
			"preset": "must be one of YEAR_TO_DATE, ALL_TIME, LAST_12_MONTHS, CURRENT_MONTH, CUSTOM",
		})
	}
}
