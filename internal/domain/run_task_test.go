package domain

import (
	"reflect"
	"testing"
)

func TestMountValidate(t *testing.T) {
	if err := (Mount{Source: "nhm_nhm", Target: "/nhm", Mode: MountReadWrite}).Validate(); err != nil {
		t.Fatalf("valid mount rejected: %v", err)
	}
	if err := (Mount{Source: "", Target: "/nhm", Mode: MountReadOnly}).Validate(); err == nil {
		t.Fatal("missing source accepted")
	}
	if err := (Mount{Source: "v", Target: "relative", Mode: MountReadOnly}).Validate(); err == nil {
		t.Fatal("relative target accepted")
	}
	if err := (Mount{Source: "v", Target: "/nhm", Mode: "rx"}).Validate(); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestSortedEnvKeys(t *testing.T) {
	task := RunTask{Env: map[string]string{
		"PRMS_END_TIME":   "2024,01,31,00,00,00",
		"ENS_NUM":         "3",
		"PRMS_START_TIME": "2024,01,01,00,00,00",
		"  ":              "ignored",
	}}
	want := []string{"ENS_NUM", "PRMS_END_TIME", "PRMS_START_TIME"}
	if got := task.SortedEnvKeys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("SortedEnvKeys() = %v, want %v", got, want)
	}
}

func TestDisjointOutputSubpaths(t *testing.T) {
	tasks := []RunTask{
		{ID: "member-00", OutputSubpath: "/out/member-00"},
		{ID: "member-01", OutputSubpath: "/out/member-01"},
	}
	if !DisjointOutputSubpaths(tasks) {
		t.Fatal("disjoint subpaths reported as overlapping")
	}

	tasks[1].OutputSubpath = "/out/member-00"
	if DisjointOutputSubpaths(tasks) {
		t.Fatal("duplicate subpath not detected")
	}

	tasks[1].OutputSubpath = " "
	if DisjointOutputSubpaths(tasks) {
		t.Fatal("blank subpath not detected")
	}
}
