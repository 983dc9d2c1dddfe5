package config

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"
const prmsTimeLayout = "2006,01,02,00,00,00"

// AdjustDate shifts a YYYY-MM-DD date by a number of days.
func AdjustDate(date string, days int) (string, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(date))
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return t.AddDate(0, 0, days).Format(dateLayout), nil
}

// PRMSTime renders a date in the comma-separated timestamp form the PRMS
// control file expects.
func PRMSTime(date string) (string, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(date))
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return t.Format(prmsTimeLayout), nil
}

// YesterdayMST returns yesterday's date in the model's reference timezone.
// Forcing data for a day is only complete once that day has ended in
// America/Denver.
func YesterdayMST(now time.Time) string {
	loc, err := time.LoadLocation("America/Denver")
	if err != nil {
		loc = time.FixedZone("MST", -7*3600)
	}
	return now.In(loc).AddDate(0, 0, -1).Format(dateLayout)
}

// OperationalWindow holds the date range of one daily operational run.
type OperationalWindow struct {
	RestartDate     string
	StartDate       string
	EndDate         string
	SaveRestartDate string
	ForecastEndDate string
}

// NewOperationalWindow derives the run window from the latest restart date:
// the simulation starts the day after the restart state, ends at endDate,
// saves a new restart state 59 days back from the end, and the companion
// forecast horizon extends 29 days past the end.
func NewOperationalWindow(restartDate, endDate string) (OperationalWindow, error) {
	start, err := AdjustDate(restartDate, 1)
	if err != nil {
		return OperationalWindow{}, err
	}
	saveRestart, err := AdjustDate(endDate, -59)
	if err != nil {
		return OperationalWindow{}, err
	}
	forecastEnd, err := AdjustDate(endDate, 29)
	if err != nil {
		return OperationalWindow{}, err
	}
	return OperationalWindow{
		RestartDate:     restartDate,
		StartDate:       start,
		EndDate:         endDate,
		SaveRestartDate: saveRestart,
		ForecastEndDate: forecastEnd,
	}, nil
}

// NewTestWindow derives a short window of numDays following the restart
// date. The save-restart date sits at the window end, so a test run only
// advances the daily chain by the few days it simulated.
func NewTestWindow(restartDate string, numDays int) (OperationalWindow, error) {
	start, err := AdjustDate(restartDate, 1)
	if err != nil {
		return OperationalWindow{}, err
	}
	end, err := AdjustDate(start, numDays)
	if err != nil {
		return OperationalWindow{}, err
	}
	forecastEnd, err := AdjustDate(end, 29)
	if err != nil {
		return OperationalWindow{}, err
	}
	return OperationalWindow{
		RestartDate:     restartDate,
		StartDate:       start,
		EndDate:         end,
		SaveRestartDate: end,
		ForecastEndDate: forecastEnd,
	}, nil
}

// ForecastWindow holds the date range of one ensemble forecast run.
type ForecastWindow struct {
	RestartDate string
	StartDate   string
	EndDate     string
}

// NewForecastWindow derives the forecast range from the restart date: the
// forecast starts the next day and spans horizonDays (28 for the
// sub-seasonal ensemble, so end = start + 27).
func NewForecastWindow(restartDate string, horizonDays int) (ForecastWindow, error) {
	if horizonDays < 1 {
		return ForecastWindow{}, fmt.Errorf("horizon must be >= 1 day, got %d", horizonDays)
	}
	start, err := AdjustDate(restartDate, 1)
	if err != nil {
		return ForecastWindow{}, err
	}
	end, err := AdjustDate(start, horizonDays-1)
	if err != nil {
		return ForecastWindow{}, err
	}
	return ForecastWindow{RestartDate: restartDate, StartDate: start, EndDate: end}, nil
}

// PRMSEnv renders the main daily run: it simulates the full window and
// saves the forecast restart state at the window end. The daily restart
// chain is advanced separately by RestartPRMSEnv.
func (w OperationalWindow) PRMSEnv(projectRoot, controlFile string) (map[string]string, error) {
	startTime, err := PRMSTime(w.StartDate)
	if err != nil {
		return nil, err
	}
	endTime, err := PRMSTime(w.EndDate)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"PRMS_START_TIME":          startTime,
		"PRMS_END_TIME":            endTime,
		"PRMS_RESTART_DATE":        w.RestartDate,
		"PRMS_INIT_VARS_FROM_FILE": "1",
		"PRMS_VAR_INIT_FILE":       projectRoot + "/daily/restart/" + w.RestartDate + ".restart",
		"PRMS_SAVE_VARS_TO_FILE":   "1",
		"PRMS_VAR_SAVE_FILE":       projectRoot + "/forecast/restart/" + w.EndDate + ".restart",
		"PRMS_CONTROL_FILE":        controlFile,
		"PRMS_RUN_TYPE":            "0",
		"PRMS_INPUT_DIR":           projectRoot + "/daily/input",
		"PRMS_OUTPUT_DIR":          projectRoot + "/daily/output",
	}, nil
}

// RestartPRMSEnv renders the follow-up run that advances the daily restart
// chain: it re-simulates from the same restart state only up to the
// save-restart date and writes the daily restart file named for that date,
// so the saved state always matches its filename.
func (w OperationalWindow) RestartPRMSEnv(projectRoot, controlFile string) (map[string]string, error) {
	startTime, err := PRMSTime(w.StartDate)
	if err != nil {
		return nil, err
	}
	endTime, err := PRMSTime(w.SaveRestartDate)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"PRMS_START_TIME":          startTime,
		"PRMS_END_TIME":            endTime,
		"PRMS_RESTART_DATE":        w.RestartDate,
		"PRMS_INIT_VARS_FROM_FILE": "1",
		"PRMS_VAR_INIT_FILE":       projectRoot + "/daily/restart/" + w.RestartDate + ".restart",
		"PRMS_SAVE_VARS_TO_FILE":   "1",
		"PRMS_VAR_SAVE_FILE":       projectRoot + "/daily/restart/" + w.SaveRestartDate + ".restart",
		"PRMS_CONTROL_FILE":        controlFile,
		"PRMS_RUN_TYPE":            "0",
		"PRMS_INPUT_DIR":           projectRoot + "/daily/input",
		"PRMS_OUTPUT_DIR":          projectRoot + "/daily/output",
	}, nil
}

// PRMSEnv renders the forecast window for one ensemble member.
func (w ForecastWindow) PRMSEnv(projectRoot, controlFile string, member int) (map[string]string, error) {
	startTime, err := PRMSTime(w.StartDate)
	if err != nil {
		return nil, err
	}
	endTime, err := PRMSTime(w.EndDate)
	if err != nil {
		return nil, err
	}
	memberDir := fmt.Sprintf("member-%02d", member)
	return map[string]string{
		"PRMS_START_TIME":          startTime,
		"PRMS_END_TIME":            endTime,
		"PRMS_RESTART_DATE":        w.RestartDate,
		"PRMS_INIT_VARS_FROM_FILE": "1",
		"PRMS_VAR_INIT_FILE":       projectRoot + "/forecast/restart/" + w.RestartDate + ".restart",
		"PRMS_SAVE_VARS_TO_FILE":   "0",
		"PRMS_CONTROL_FILE":        controlFile,
		"PRMS_RUN_TYPE":            "1",
		"PRMS_INPUT_DIR":           projectRoot + "/forecast/input/" + w.StartDate + "/" + memberDir,
		"PRMS_OUTPUT_DIR":          projectRoot + "/forecast/output/" + w.StartDate + "/" + memberDir,
	}, nil
}
