package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/onhm-labs/onhm-go/internal/domain"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNonEmptyDirValidator(t *testing.T) {
	task := domain.RunTask{ID: "member-00"}
	v := NonEmptyDirValidator{}

	dir := t.TempDir()
	if err := v.Validate(context.Background(), task, dir); err == nil {
		t.Fatal("empty directory accepted")
	}

	writeFile(t, filepath.Join(dir, "sub", "empty.csv"), nil)
	if err := v.Validate(context.Background(), task, dir); err == nil {
		t.Fatal("directory of empty files accepted")
	}

	writeFile(t, filepath.Join(dir, "sub", "statvar.dat"), []byte("1 2 3\n"))
	if err := v.Validate(context.Background(), task, dir); err != nil {
		t.Fatalf("non-empty directory rejected: %v", err)
	}

	if err := v.Validate(context.Background(), task, filepath.Join(dir, "missing")); err == nil {
		t.Fatal("missing path accepted")
	}
}

func TestRequiredFilesValidator(t *testing.T) {
	task := domain.RunTask{ID: "member-00"}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "statvar.dat"), []byte("1 2 3\n"))
	writeFile(t, filepath.Join(dir, "seg_outflow.csv"), []byte("x"))

	v := RequiredFilesValidator{Required: []string{"statvar.dat", "seg_outflow.csv"}, MinBytes: 1}
	if err := v.Validate(context.Background(), task, dir); err != nil {
		t.Fatalf("complete output rejected: %v", err)
	}

	v.Required = append(v.Required, "nhru_out.csv")
	if err := v.Validate(context.Background(), task, dir); err == nil {
		t.Fatal("missing required file accepted")
	}

	v = RequiredFilesValidator{Required: []string{"seg_outflow.csv"}, MinBytes: 100}
	if err := v.Validate(context.Background(), task, dir); err == nil {
		t.Fatal("undersized required file accepted")
	}
}
