package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const (
	withExpiry    = `{"src":"ACS","dst":"6596973770","msg":"The SMS-OTP for your transaction is 123456. Please use it by 17:18:08 01/10/2013 Singapore time.","provider":"wtxt","ip":"192.0.2.1","expiry":"2013-10-01T09:18:08Z","stored":"2013-10-01T09:16:40.6Z"}`
	withoutExpiry = `{"src":"ACS","dst":"6596973770","msg":"The SMS-OTP for your transaction is 654321. Please use it by 17:18:08 01/10/2013 Singapore time.","provider":"wtxt","ip":"192.0.2.1","expiry":null,"stored":"2013-10-01T09:16:40Z"}`
)

type queries struct {
	mu   sync.Mutex
	seen []string
}

func (q *queries) list() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.seen...)
}

func dumpServer(t *testing.T, q *queries) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		q.seen = append(q.seen, r.URL.RawQuery)
		q.mu.Unlock()
		if r.URL.Query().Get("dst") == "bad" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(withExpiry + "\n" + withoutExpiry + "\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyse(t *testing.T) {
	row, err := analyse([]byte(withExpiry), defaultTimezone)
	if err != nil {
		t.Fatalf("analyse returned error: %v", err)
	}
	want := map[string]string{
		"provider":     "wtxt",
		"dst":          "6596973770",
		"otp":          "123456",
		"t_expiry":     "2013-10-01 09:18:08",
		"t_sent":       "2013-10-01 09:16:28",
		"t_stored":     "2013-10-01 09:16:41",
		"d_transmit":   "13.0",
		"d_timetolive": "87.0",
	}
	for k, v := range want {
		if row[k] != v {
			t.Fatalf("row[%s] = %q, want %q", k, row[k], v)
		}
	}
}

func TestAnalyseFallsBackToMessageExpiry(t *testing.T) {
	row, err := analyse([]byte(withoutExpiry), defaultTimezone)
	if err != nil {
		t.Fatalf("analyse returned error: %v", err)
	}
	if row["t_expiry"] != "2013-10-01 09:18:08" {
		t.Fatalf("t_expiry = %q, want 2013-10-01 09:18:08", row["t_expiry"])
	}
	if row["otp"] != "654321" {
		t.Fatalf("otp = %q, want 654321", row["otp"])
	}

	row, err = analyse([]byte(`{"dst":"1","msg":"hello","stored":"2013-10-01T09:16:40Z"}`), defaultTimezone)
	if err != nil {
		t.Fatalf("analyse returned error: %v", err)
	}
	if row["t_expiry"] != "" || row["otp"] != "" {
		t.Fatalf("unexpected timings for a non OTP message: %v", row)
	}
}

func TestRunText(t *testing.T) {
	q := &queries{}
	srv := dumpServer(t, q)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-u", srv.URL + "/dump", "-s", "6596973770", "-a", "2h", "-c", "5", "-o", "stored"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run returned %d, want 0 (stderr %q)", code, stderr.String())
	}
	if seen := q.list(); len(seen) != 1 || seen[0] != "age=2h&count=5&dst=6596973770&fmt=json&orderby=stored" {
		t.Fatalf("query = %v", q.list())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus 2 rows", len(lines))
	}
	if lines[0] != strings.Join(fieldNames, "\t") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "wtxt\t6596973770\t123456\t") {
		t.Fatalf("row = %q", lines[1])
	}
}

func TestRunCSVFromSuffix(t *testing.T) {
	q := &queries{}
	srv := dumpServer(t, q)
	out := filepath.Join(t.TempDir(), "dump.csv")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-u", srv.URL, "-s", "a", "-s", "b", "-n", out}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run returned %d, want 0 (stderr %q)", code, stderr.String())
	}
	if seen := q.list(); len(seen) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(seen))
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d csv rows, want 4", len(lines))
	}
	if !strings.HasPrefix(lines[0], "wtxt,6596973770,123456,") {
		t.Fatalf("row = %q", lines[0])
	}
}

func TestRunRaw(t *testing.T) {
	q := &queries{}
	srv := dumpServer(t, q)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-u", srv.URL, "-s", "x", "-f", "raw"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run returned %d, want 0", code)
	}
	if got, want := stdout.String(), withExpiry+"\n"+withoutExpiry+"\n"; got != want {
		t.Fatalf("raw output = %q, want %q", got, want)
	}
}

func TestRunErrors(t *testing.T) {
	q := &queries{}
	srv := dumpServer(t, q)

	cases := []struct {
		name string
		args []string
		code int
	}{
		{"no destination", []string{"-u", srv.URL}, 1},
		{"bad order", []string{"-u", srv.URL, "-s", "x", "-o", "dst"}, 1},
		{"bad age", []string{"-u", srv.URL, "-s", "x", "-a", "soon"}, 1},
		{"bad format", []string{"-u", srv.URL, "-s", "x", "-f", "xls"}, 1},
		{"http error", []string{"-u", srv.URL, "-s", "bad"}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != tc.code {
				t.Fatalf("run returned %d, want %d", code, tc.code)
			}
		})
	}
}

func TestFormatFromName(t *testing.T) {
	cases := map[string]string{"": "txt", "out.CSV": "csv", "dump.raw": "raw", "notes.md": "txt"}
	for name, want := range cases {
		if got := formatFromName(name); got != want {
			t.Fatalf("formatFromName(%q) = %s, want %s", name, got, want)
		}
	}
}
