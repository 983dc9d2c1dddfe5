package config

import (
	"testing"
	"time"
)

func TestAdjustDate(t *testing.T) {
	cases := []struct {
		date string
		days int
		want string
	}{
		{"2023-09-30", 1, "2023-10-01"},
		{"2023-01-01", -1, "2022-12-31"},
		{"2024-02-28", 1, "2024-02-29"},
		{"2023-12-03", -59, "2023-10-05"},
		{"2023-11-30", 29, "2023-12-29"},
	}
	for _, tc := range cases {
		got, err := AdjustDate(tc.date, tc.days)
		if err != nil {
			t.Fatalf("AdjustDate(%q, %d): %v", tc.date, tc.days, err)
		}
		if got != tc.want {
			t.Fatalf("AdjustDate(%q, %d) = %q, want %q", tc.date, tc.days, got, tc.want)
		}
	}

	if _, err := AdjustDate("30/09/2023", 1); err == nil {
		t.Fatal("malformed date accepted")
	}
}

func TestPRMSTime(t *testing.T) {
	got, err := PRMSTime("2023-10-01")
	if err != nil {
		t.Fatalf("PRMSTime: %v", err)
	}
	if got != "2023,10,01,00,00,00" {
		t.Fatalf("PRMSTime = %q", got)
	}
}

func TestNewOperationalWindow(t *testing.T) {
	w, err := NewOperationalWindow("2023-09-30", "2023-12-03")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if w.StartDate != "2023-10-01" {
		t.Fatalf("start = %q, want restart+1", w.StartDate)
	}
	if w.SaveRestartDate != "2023-10-05" {
		t.Fatalf("save restart = %q, want end-59", w.SaveRestartDate)
	}
	if w.ForecastEndDate != "2024-01-01" {
		t.Fatalf("forecast end = %q, want end+29", w.ForecastEndDate)
	}
}

func TestNewTestWindow(t *testing.T) {
	w, err := NewTestWindow("2023-09-30", 2)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if w.StartDate != "2023-10-01" || w.EndDate != "2023-10-03" {
		t.Fatalf("window = %+v", w)
	}
	if w.SaveRestartDate != w.EndDate {
		t.Fatalf("test window should save restart at its end, got %q", w.SaveRestartDate)
	}
}

func TestNewForecastWindow(t *testing.T) {
	w, err := NewForecastWindow("2023-09-30", 28)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if w.StartDate != "2023-10-01" {
		t.Fatalf("start = %q", w.StartDate)
	}
	if w.EndDate != "2023-10-28" {
		t.Fatalf("end = %q, want start+27 for a 28-day horizon", w.EndDate)
	}

	if _, err := NewForecastWindow("2023-09-30", 0); err == nil {
		t.Fatal("zero-day horizon accepted")
	}
}

func TestOperationalPRMSEnv(t *testing.T) {
	w, err := NewOperationalWindow("2023-09-30", "2023-12-03")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	env, err := w.PRMSEnv("/nhm/NHM_PRMS_CONUS_GF_1_1", "/nhm/NHM_PRMS_CONUS_GF_1_1/control/NHM-PRMS.control")
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	want := map[string]string{
		"PRMS_START_TIME":    "2023,10,01,00,00,00",
		"PRMS_END_TIME":      "2023,12,03,00,00,00",
		"PRMS_RUN_TYPE":      "0",
		"PRMS_VAR_INIT_FILE": "/nhm/NHM_PRMS_CONUS_GF_1_1/daily/restart/2023-09-30.restart",
		"PRMS_VAR_SAVE_FILE": "/nhm/NHM_PRMS_CONUS_GF_1_1/forecast/restart/2023-12-03.restart",
		"PRMS_OUTPUT_DIR":    "/nhm/NHM_PRMS_CONUS_GF_1_1/daily/output",
	}
	for k, v := range want {
		if env[k] != v {
			t.Fatalf("%s = %q, want %q", k, env[k], v)
		}
	}
}

func TestRestartPRMSEnv(t *testing.T) {
	w, err := NewOperationalWindow("2023-09-30", "2023-12-03")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	env, err := w.RestartPRMSEnv("/nhm/proj", "/nhm/proj/control/NHM-PRMS.control")
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	if env["PRMS_END_TIME"] != "2023,10,05,00,00,00" {
		t.Fatalf("restart run end = %q, want the save-restart date", env["PRMS_END_TIME"])
	}
	if env["PRMS_VAR_INIT_FILE"] != "/nhm/proj/daily/restart/2023-09-30.restart" {
		t.Fatalf("restart run init file = %q", env["PRMS_VAR_INIT_FILE"])
	}
	if env["PRMS_VAR_SAVE_FILE"] != "/nhm/proj/daily/restart/2023-10-05.restart" {
		t.Fatalf("restart run save file = %q", env["PRMS_VAR_SAVE_FILE"])
	}

	// The saved daily state must carry the date in its filename: the run
	// ends exactly where the file name says it does.
	endTime, err := PRMSTime(w.SaveRestartDate)
	if err != nil {
		t.Fatalf("save restart time: %v", err)
	}
	if env["PRMS_END_TIME"] != endTime {
		t.Fatalf("restart run simulates to %q but saves state named %q", env["PRMS_END_TIME"], w.SaveRestartDate)
	}
}

func TestForecastPRMSEnvPerMember(t *testing.T) {
	w, err := NewForecastWindow("2023-09-30", 28)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	env3, err := w.PRMSEnv("/nhm/proj", "/nhm/proj/control/NHM-PRMS.ensemble.control", 3)
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	env17, err := w.PRMSEnv("/nhm/proj", "/nhm/proj/control/NHM-PRMS.ensemble.control", 17)
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	if env3["PRMS_RUN_TYPE"] != "1" {
		t.Fatalf("forecast run type = %q", env3["PRMS_RUN_TYPE"])
	}
	if env3["PRMS_SAVE_VARS_TO_FILE"] != "0" {
		t.Fatal("forecast run should not save restart state")
	}
	if env3["PRMS_OUTPUT_DIR"] == env17["PRMS_OUTPUT_DIR"] {
		t.Fatal("members share an output directory")
	}
	if env3["PRMS_OUTPUT_DIR"] != "/nhm/proj/forecast/output/2023-10-01/member-03" {
		t.Fatalf("member output dir = %q", env3["PRMS_OUTPUT_DIR"])
	}
}

func TestYesterdayMST(t *testing.T) {
	// 2023-10-02 06:00 UTC is 2023-10-02 00:00 in Denver.
	now := time.Date(2023, 10, 2, 6, 0, 0, 0, time.UTC)
	if got := YesterdayMST(now); got != "2023-10-01" {
		t.Fatalf("YesterdayMST = %q, want 2023-10-01", got)
	}

	// 2023-10-02 03:00 UTC is still 2023-10-01 in Denver.
	now = time.Date(2023, 10, 2, 3, 0, 0, 0, time.UTC)
	if got := YesterdayMST(now); got != "2023-09-30" {
		t.Fatalf("YesterdayMST = %q, want 2023-09-30", got)
	}
}
