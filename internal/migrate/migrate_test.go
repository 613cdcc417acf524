package migrate

import (
	"strings"
	"testing"
)

func TestFiles_ApplyOrder(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want := []string{
		"0001_blocked_dates.sql",
		"0002_bookings.sql",
		"0003_sync_runs.sql",
		"0004_bookings_exact_total.sql",
	}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, files)
	}
}

func TestBookingTotalsAreUnbounded(t *testing.T) {
	b, err := fs.ReadFile("0004_bookings_exact_total.sql")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "total_price TYPE NUMERIC;") {
		t.Fatalf("total_price must end as unconstrained NUMERIC:\n%s", b)
	}
}
