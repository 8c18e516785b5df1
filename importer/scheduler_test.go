package importer

import (
	"testing"
)

func TestValidateCron(t *testing.T) {
	valid := []string{
		"0 3 * * *",
		"*/15 * * * *",
		"30 2 * * 1",
		"@daily",
	}
	for _, expr := range valid {
		if err := ValidateCron(expr); err != nil {
			t.Errorf("ValidateCron(%q) = %v, want nil", expr, err)
		}
	}

	invalid := []string{
		"",
		"not cron",
		"61 * * * *",
		"* * * *",
	}
	for _, expr := range invalid {
		if err := ValidateCron(expr); err == nil {
			t.Errorf("ValidateCron(%q) = nil, want error", expr)
		}
	}
}

func TestAuditStatus(t *testing.T) {
	if got := auditStatus(StatusCompleted); got != "completed" {
		t.Errorf("auditStatus(completed) = %q", got)
	}
	for _, status := range []string{StatusFailed, StatusCancelled} {
		if got := auditStatus(status); got != "failed" {
			t.Errorf("auditStatus(%s) = %q, want failed", status, got)
		}
	}
}
