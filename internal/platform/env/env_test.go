package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("ONHM_TEST_STR", "nhm_nhm")
	if got := String("ONHM_TEST_STR", "fallback"); got != "nhm_nhm" {
		t.Fatalf("String() = %q", got)
	}
	if got := String("ONHM_TEST_STR_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("String() default = %q", got)
	}

	// Env-file values can carry padding or be left blank.
	t.Setenv("ONHM_TEST_STR", "  nhm_nhm ")
	if got := String("ONHM_TEST_STR", "fallback"); got != "nhm_nhm" {
		t.Fatalf("String() padded = %q", got)
	}
	t.Setenv("ONHM_TEST_STR", "   ")
	if got := String("ONHM_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("String() blank = %q, want fallback", got)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("ONHM_TEST_INT", "48")
	got, err := Int("ONHM_TEST_INT", 1)
	if err != nil || got != 48 {
		t.Fatalf("Int() = %d, %v", got, err)
	}
	if got, err := Int("ONHM_TEST_INT_MISSING", 12); err != nil || got != 12 {
		t.Fatalf("Int() default = %d, %v", got, err)
	}

	t.Setenv("ONHM_TEST_INT", " 48 ")
	if got, err := Int("ONHM_TEST_INT", 1); err != nil || got != 48 {
		t.Fatalf("Int() padded = %d, %v", got, err)
	}

	t.Setenv("ONHM_TEST_INT", "forty-eight")
	if _, err := Int("ONHM_TEST_INT", 1); err == nil {
		t.Fatal("malformed int accepted")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("ONHM_TEST_BOOL", "true")
	got, err := Bool("ONHM_TEST_BOOL", false)
	if err != nil || !got {
		t.Fatalf("Bool() = %v, %v", got, err)
	}

	t.Setenv("ONHM_TEST_BOOL", "yep")
	if _, err := Bool("ONHM_TEST_BOOL", false); err == nil {
		t.Fatal("malformed bool accepted")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("ONHM_TEST_DUR", "2h")
	got, err := Duration("ONHM_TEST_DUR", time.Minute)
	if err != nil || got != 2*time.Hour {
		t.Fatalf("Duration() = %v, %v", got, err)
	}
	if got, err := Duration("ONHM_TEST_DUR_MISSING", time.Minute); err != nil || got != time.Minute {
		t.Fatalf("Duration() default = %v, %v", got, err)
	}

	t.Setenv("ONHM_TEST_DUR", "2 hours")
	if _, err := Duration("ONHM_TEST_DUR", time.Minute); err == nil {
		t.Fatal("malformed duration accepted")
	}
}
