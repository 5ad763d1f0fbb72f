package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clubledger/clubledger/internal/shared"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestResolvePeriodYearToDate(t *testing.T) {
	period, err := ResolvePeriod(PeriodRequest{Preset: PresetYearToDate}, testNow)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), period.From)
	require.Equal(t, testNow, period.To)
	require.Equal(t, "Year to date", period.Label)
}

func TestResolvePeriodAllTime(t *testing.T) {
	period, err := ResolvePeriod(PeriodRequest{Preset: PresetAllTime}, testNow)
	require.NoError(t, err)
	require.True(t, period.From.IsZero())
	require.Equal(t, testNow, period.To)
}

func TestResolvePeriodLast12Months(t *testing.T) {
	period, err := ResolvePeriod(PeriodRequest{Preset: PresetLast12Months}, testNow)
	require.NoError(t, err)
	require.Equal(t, testNow.AddDate(-1, 0, 0), period.From)
	require.Equal(t, testNow, period.To)
}

func TestResolvePeriodCurrentMonth(t *testing.T) {
	period, err := ResolvePeriod(PeriodRequest{Preset: PresetCurrentMonth}, testNow)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), period.From)
	require.Equal(t, "March 2026", period.Label)
}

func TestResolvePeriodCustom(t *testing.T) {
	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	period, err := ResolvePeriod(PeriodRequest{Preset: PresetCustom, From: &from, To: &to}, testNow)
	require.NoError(t, err)
	require.Equal(t, from, period.From)
	require.Equal(t, to, period.To)
	require.Equal(t, "2026-01-10 to 2026-02-10", period.Label)
}

func TestResolvePeriodCustomRequiresBothBounds(t *testing.T) {
	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err := ResolvePeriod(PeriodRequest{Preset: PresetCustom, From: &from}, testNow)
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeValidationFailed))

	_, err = ResolvePeriod(PeriodRequest{Preset: PresetCustom}, testNow)
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeValidationFailed))
}

func TestResolvePeriodCustomRejectsInvertedRange(t *testing.T) {
	from := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err := ResolvePeriod(PeriodRequest{Preset: PresetCustom, From: &from, To: &to}, testNow)
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeValidationFailed))
}

func TestResolvePeriodUnknownPreset(t *testing.T) {
	_, err := ResolvePeriod(PeriodRequest{Preset: "FOREVER"}, testNow)
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeValidationFailed))
}

func TestResolvePeriodDeterministic(t *testing.T) {
	first, err := ResolvePeriod(PeriodRequest{Preset: PresetYearToDate}, testNow)
	require.NoError(t, err)
	second, err := ResolvePeriod(PeriodRequest{Preset: PresetYearToDate}, testNow)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
