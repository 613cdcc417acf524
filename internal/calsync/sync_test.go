package calsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/store"
	"github.com/shopspring/decimal"
)

func vcal(events ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Airbnb Inc//Hosting Calendar 1.0//EN\r\n")
	for _, e := range events {
		b.WriteString(e)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func vevent(uid string, lines ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VEVENT\r\nUID:" + uid + "\r\nDTSTAMP:20240601T000000Z\r\n")
	for _, l := range lines {
		b.WriteString(l + "\r\n")
	}
	b.WriteString("END:VEVENT\r\n")
	return b.String()
}

func reservation(uid, start, end string) string {
	return vevent(uid,
		"DTSTART;VALUE=DATE:"+start,
		"DTEND;VALUE=DATE:"+end,
		"SUMMARY:Reserved",
	)
}

// feedServer serves whatever body currently holds.
type feedServer struct {
	*httptest.Server
	body   atomic.Value
	status atomic.Int32
}

func newFeedServer(t *testing.T, body string) *feedServer {
	t.Helper()
	fs := &feedServer{}
	fs.body.Store(body)
	fs.status.Store(http.StatusOK)
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.WriteHeader(int(fs.status.Load()))
		_, _ = w.Write([]byte(fs.body.Load().(string)))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func day(t *testing.T, s string) availability.Day {
	t.Helper()
	d, err := availability.ParseDay(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func newJob(url string, st store.BlockedStore) *Job {
	return &Job{
		Fetcher:      NewHTTPFetcher(2*time.Second, "villasync-test"),
		Store:        st,
		FeedURL:      url,
		Source:       availability.SourceAirbnb,
		StoreTimeout: time.Second,
	}
}

func rangesFor(t *testing.T, st store.BlockedStore, source availability.Source) []availability.BlockedRange {
	t.Helper()
	all, err := st.ListRanges(context.Background())
	if err != nil {
		t.Fatalf("ListRanges: %v", err)
	}
	var out []availability.BlockedRange
	for _, r := range all {
		if r.Source == source {
			out = append(out, r)
		}
	}
	return out
}

func TestRun_EndToEndBookingFlow(t *testing.T) {
	fs := newFeedServer(t, vcal(reservation("a1", "20240701", "20240705")))
	st := store.NewMemory()

	res, err := newJob(fs.URL, st).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BlockedCount != 1 || res.Status != store.SyncSucceeded {
		t.Fatalf("unexpected result %+v", res)
	}
	got := rangesFor(t, st, availability.SourceAirbnb)
	want := availability.BlockedRange{CheckIn: day(t, "2024-07-01"), CheckOut: day(t, "2024-07-05"), Source: availability.SourceAirbnb}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	blocked, err := availability.NewEngine(st, nil, time.Second).LoadBlockedDays(context.Background())
	if err != nil {
		t.Fatalf("LoadBlockedDays: %v", err)
	}
	if blocked.Len() != 5 {
		t.Fatalf("expected 5 blocked days, got %d", blocked.Len())
	}
	for _, s := range []string{"2024-07-01", "2024-07-02", "2024-07-03", "2024-07-04", "2024-07-05"} {
		if !blocked.Contains(day(t, s)) {
			t.Fatalf("expected %s to be blocked", s)
		}
	}
	if availability.IsRangeAvailable(day(t, "2024-07-03"), day(t, "2024-07-06"), blocked) {
		t.Fatal("07-03..07-06 must be rejected")
	}
	start, end := day(t, "2024-07-06"), day(t, "2024-07-10")
	if !availability.IsRangeAvailable(start, end, blocked) {
		t.Fatal("07-06..07-10 must be accepted")
	}
	if n := availability.NightsBetween(start, end); n != 4 {
		t.Fatalf("expected 4 nights, got %d", n)
	}
	rate := decimal.NewFromInt(250)
	if p := availability.PriceFor(start, end, rate); !p.Equal(rate.Mul(decimal.NewFromInt(4))) {
		t.Fatalf("unexpected price %s", p)
	}
}

func TestRun_EmptyFeedDeletesWithoutInsert(t *testing.T) {
	fs := newFeedServer(t, vcal())
	st := store.NewMemory(
		availability.BlockedRange{CheckIn: day(t, "2024-07-01"), CheckOut: day(t, "2024-07-05"), Source: availability.SourceAirbnb},
		availability.BlockedRange{CheckIn: day(t, "2024-08-01"), CheckOut: day(t, "2024-08-03"), Source: availability.SourceBookingRequest},
	)

	res, err := newJob(fs.URL, st).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Deleted != 1 || res.BlockedCount != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := st.Calls(store.OpInsertRanges); n != 0 {
		t.Fatalf("expected no insert, got %d calls", n)
	}
	if got := rangesFor(t, st, availability.SourceAirbnb); len(got) != 0 {
		t.Fatalf("expected no airbnb ranges, got %+v", got)
	}
	if got := rangesFor(t, st, availability.SourceBookingRequest); len(got) != 1 {
		t.Fatalf("booking_request ranges must survive, got %+v", got)
	}
}

func TestRun_Idempotent(t *testing.T) {
	fs := newFeedServer(t, vcal(
		reservation("a1", "20240701", "20240705"),
		reservation("a2", "20240720", "20240722"),
	))
	st := store.NewMemory()
	job := newJob(fs.URL, st)

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := rangesFor(t, st, availability.SourceAirbnb)
	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := rangesFor(t, st, availability.SourceAirbnb)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 ranges after each run, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("runs diverged: %+v vs %+v", first, second)
		}
	}
	if res.Deleted != 2 {
		t.Fatalf("second run should replace 2 ranges, deleted %d", res.Deleted)
	}
	if runs := st.SyncRuns(); len(runs) != 2 || runs[0].FeedDigest != runs[1].FeedDigest {
		t.Fatalf("expected two recorded runs with equal digests, got %+v", runs)
	}
}

func TestRun_ReplaceSemantics(t *testing.T) {
	fs := newFeedServer(t, vcal(
		reservation("n1", "20240701", "20240703"),
		reservation("n2", "20240710", "20240712"),
		reservation("n3", "20240720", "20240722"),
	))
	st := store.NewMemory()
	job := newJob(fs.URL, st)
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	fs.body.Store(vcal(
		reservation("m1", "20240901", "20240903"),
		reservation("m2", "20240910", "20240911"),
	))
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	got := rangesFor(t, st, availability.SourceAirbnb)
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 ranges, got %+v", got)
	}
	for _, r := range got {
		if r.CheckIn.Month != time.September {
			t.Fatalf("stale range survived: %+v", r)
		}
	}
}

func TestRun_FiltersNonBusyEvents(t *testing.T) {
	fs := newFeedServer(t, vcal(
		reservation("busy", "20240701", "20240705"),
		vevent("cancelled", "DTSTART;VALUE=DATE:20240801", "DTEND;VALUE=DATE:20240803", "STATUS:CANCELLED"),
		vevent("tentative", "DTSTART;VALUE=DATE:20240810", "DTEND;VALUE=DATE:20240812", "STATUS:TENTATIVE"),
		vevent("free", "DTSTART;VALUE=DATE:20240820", "DTEND;VALUE=DATE:20240822", "TRANSP:TRANSPARENT"),
		vevent("confirmed", "DTSTART;VALUE=DATE:20240901", "DTEND;VALUE=DATE:20240902", "STATUS:CONFIRMED", "TRANSP:OPAQUE"),
		vevent("nodtend", "DTSTART;VALUE=DATE:20241001"),
		reservation("dup", "20240701", "20240705"),
	))
	st := store.NewMemory()
	res, err := newJob(fs.URL, st).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BlockedCount != 3 {
		t.Fatalf("expected 3 ranges, got %d", res.BlockedCount)
	}
	got := rangesFor(t, st, availability.SourceAirbnb)
	last := got[len(got)-1]
	if last.CheckIn != day(t, "2024-10-01") || last.CheckOut != last.CheckIn {
		t.Fatalf("event without DTEND should block one day, got %+v", last)
	}
}

func TestRun_FetchFailureLeavesStoreUntouched(t *testing.T) {
	fs := newFeedServer(t, "boom")
	fs.status.Store(http.StatusInternalServerError)
	st := store.NewMemory(availability.BlockedRange{CheckIn: day(t, "2024-07-01"), CheckOut: day(t, "2024-07-05"), Source: availability.SourceAirbnb})

	res, err := newJob(fs.URL, st).Run(context.Background())
	var fe *FeedFetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected FeedFetchError with 500, got %v", err)
	}
	if res.Status != store.SyncFailed {
		t.Fatalf("expected failed status, got %s", res.Status)
	}
	if st.Calls(store.OpDeleteBySource) != 0 {
		t.Fatal("store must not be touched on fetch failure")
	}
	if runs := st.SyncRuns(); len(runs) != 1 || runs[0].Status != store.SyncFailed || runs[0].Error == "" {
		t.Fatalf("expected a failed run record, got %+v", runs)
	}
}

func TestRun_FetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	job := newJob(srv.URL, store.NewMemory())
	job.Fetcher = NewHTTPFetcher(50*time.Millisecond, "")
	_, err := job.Run(context.Background())
	var fe *FeedFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FeedFetchError on timeout, got %v", err)
	}
}

func TestRun_ParseFailure(t *testing.T) {
	cases := map[string]string{
		"html":     "<html><body>Not found</body></html>",
		"empty":    "",
		"inverted": vcal(vevent("bad", "DTSTART;VALUE=DATE:20240705", "DTEND;VALUE=DATE:20240701")),
		"bad date": vcal(vevent("bad", "DTSTART;VALUE=DATE:2024-07-05")),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			fs := newFeedServer(t, body)
			st := store.NewMemory()
			_, err := newJob(fs.URL, st).Run(context.Background())
			var pe *FeedParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected FeedParseError, got %v", err)
			}
			if st.Calls(store.OpDeleteBySource) != 0 {
				t.Fatal("store must not be touched on parse failure")
			}
		})
	}
}

func TestRun_StoreFailures(t *testing.T) {
	boom := errors.New("connection reset")
	seed := availability.BlockedRange{CheckIn: day(t, "2024-06-01"), CheckOut: day(t, "2024-06-02"), Source: availability.SourceAirbnb}

	t.Run("delete", func(t *testing.T) {
		fs := newFeedServer(t, vcal(reservation("a1", "20240701", "20240705")))
		st := store.NewMemory(seed)
		st.FailOn(store.OpDeleteBySource, boom)
		_, err := newJob(fs.URL, st).Run(context.Background())
		var we *store.WriteError
		if !errors.As(err, &we) || we.Op != store.OpDeleteBySource {
			t.Fatalf("expected delete WriteError, got %v", err)
		}
		if st.Calls(store.OpInsertRanges) != 0 {
			t.Fatal("insert must not run after a failed delete")
		}
	})

	t.Run("insert after delete", func(t *testing.T) {
		fs := newFeedServer(t, vcal(reservation("a1", "20240701", "20240705")))
		st := store.NewMemory(seed)
		st.FailOn(store.OpInsertRanges, boom)
		res, err := newJob(fs.URL, st).Run(context.Background())
		var we *store.WriteError
		if !errors.As(err, &we) || we.Op != store.OpInsertRanges {
			t.Fatalf("expected insert WriteError, got %v", err)
		}
		if !strings.Contains(err.Error(), "insert failed") {
			t.Fatalf("error should name the empty-partition gap: %v", err)
		}
		if res.Deleted != 1 {
			t.Fatalf("expected deleted count to be reported, got %d", res.Deleted)
		}
	})

	t.Run("recording is best effort", func(t *testing.T) {
		fs := newFeedServer(t, vcal(reservation("a1", "20240701", "20240705")))
		st := store.NewMemory()
		st.FailOn(store.OpRecordSyncRun, boom)
		if _, err := newJob(fs.URL, st).Run(context.Background()); err != nil {
			t.Fatalf("record failure must not fail the run: %v", err)
		}
	})
}

// replacingStore exposes the transactional path over a Memory store.
type replacingStore struct {
	*store.Memory
	replaced int
}

func (r *replacingStore) ReplaceSource(ctx context.Context, source availability.Source, ranges []availability.BlockedRange) (int, error) {
	r.replaced++
	n, err := r.Memory.DeleteBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	if len(ranges) == 0 {
		return n, nil
	}
	return n, r.Memory.InsertRanges(ctx, ranges)
}

func TestRun_PrefersSourceReplacer(t *testing.T) {
	fs := newFeedServer(t, vcal(reservation("a1", "20240701", "20240705")))
	st := &replacingStore{Memory: store.NewMemory()}
	if _, err := newJob(fs.URL, st).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.replaced != 1 {
		t.Fatalf("expected ReplaceSource to be used, got %d calls", st.replaced)
	}
}

func TestParseEvents_StripsBOMAndReadsDateTimes(t *testing.T) {
	body := "\xEF\xBB\xBF" + vcal(
		vevent("utc", "DTSTART:20240701T150000Z", "DTEND:20240705T100000Z"),
		vevent("floating", "DTSTART:20240801T230000", "DTEND:20240802T010000"),
	)
	events, err := ParseEvents([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Start != day(t, "2024-07-01") || events[0].End != day(t, "2024-07-05") {
		t.Fatalf("unexpected utc event %+v", events[0])
	}
	if events[1].Start != day(t, "2024-08-01") || events[1].End != day(t, "2024-08-02") {
		t.Fatalf("unexpected floating event %+v", events[1])
	}
}

func TestDigest_Stable(t *testing.T) {
	a := Digest([]byte(vcal()))
	if a != Digest([]byte(vcal())) || len(a) != 64 {
		t.Fatalf("unexpected digest %q", a)
	}
	if a == Digest([]byte(vcal(reservation("x", "20240101", "20240102")))) {
		t.Fatal("different feeds must not share a digest")
	}
}
