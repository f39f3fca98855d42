package scylla

import (
	"strings"
	"testing"
)

// Each statement is plain text and a fresh gocql query is built from it per
// call; nothing query-shaped is shared between requests. These tests pin the
// bind contracts the repository methods rely on.

func placeholders(stmt string) int {
	return strings.Count(stmt, "?")
}

func TestStatementPlaceholderCounts(t *testing.T) {
	cases := []struct {
		name string
		stmt string
		want int
	}{
		{"put", stmtPutOTP, 7},
		{"get by identifier", stmtGetByIdentifier, 1},
		{"get by phone", stmtGetByPhone, 1},
		{"delete", stmtDeleteOTP, 1},
		{"get attempts", stmtGetAttempts, 1},
		{"increment attempts", stmtIncrementAttempts, 3},
		{"scan expired", stmtScanExpired, 1},
	}
	for _, tc := range cases {
		if got := placeholders(tc.stmt); got != tc.want {
			t.Errorf("%s: %d placeholders, want %d", tc.name, got, tc.want)
		}
	}
}

func TestSelectColumnsMatchScanOrder(t *testing.T) {
	// scanRecord binds destinations in this exact order.
	want := []string{"identifier", "channel", "code", "issued_at", "expires_at", "attempts"}

	for _, stmt := range []string{stmtGetByIdentifier, stmtGetByPhone} {
		cols := selectColumns(t, stmt)
		if len(cols) != len(want) {
			t.Fatalf("column count = %d, want %d in %q", len(cols), len(want), stmt)
		}
		for i := range want {
			if cols[i] != want[i] {
				t.Errorf("column %d = %q, want %q in %q", i, cols[i], want[i], stmt)
			}
		}
	}
}

func TestInsertColumnsMatchBindOrder(t *testing.T) {
	// Put binds identifier, channel, code, issued_at, expires_at, attempts,
	// phone_number in that order.
	want := "(identifier, channel, code, issued_at, expires_at, attempts, phone_number)"
	if !strings.Contains(stmtPutOTP, want) {
		t.Errorf("insert column list does not match bind order: %q", stmtPutOTP)
	}
}

func selectColumns(t *testing.T, stmt string) []string {
	t.Helper()
	upper := strings.ToUpper(stmt)
	from := strings.Index(upper, "FROM")
	sel := strings.Index(upper, "SELECT")
	if sel < 0 || from < 0 {
		t.Fatalf("not a select statement: %q", stmt)
	}
	parts := strings.Split(stmt[sel+len("SELECT"):from], ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		cols = append(cols, strings.TrimSpace(p))
	}
	return cols
}
