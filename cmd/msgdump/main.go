// Command msgdump fetches OTP messages from a msggrabber /dump endpoint and
// writes them as text, CSV or raw JSON lines with delivery timings.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"msggrabber/internal/authorize"
	"msggrabber/internal/config"
	"msggrabber/internal/fieldgen"
)

const (
	defaultDumpURL  = "http://localhost:8080/dump"
	defaultTimezone = "Asia/Singapore"

	otpLife    = 100 * time.Second
	timeLayout = "2006-01-02 15:04:05"
)

var (
	fieldNames = []string{"provider", "dst", "otp", "t_sent", "t_expiry", "t_stored", "d_transmit", "d_timetolive"}
	formats    = []string{"txt", "csv", "raw"}

	otpPattern = regexp.MustCompile(`The SMS-OTP for your transaction is (\d{6})\.`)
)

type options struct {
	age      string
	count    int
	format   string
	noHeader bool
	order    string
	dsts     []string
	url      string
	timezone string
	outfile  string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 1
	}

	out := stdout
	if opts.outfile != "" {
		f, err := os.Create(opts.outfile)
		if err != nil {
			fmt.Fprintf(stderr, "msgdump: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	w := newWriter(opts.format, out)
	if !opts.noHeader {
		if err := w.header(); err != nil {
			fmt.Fprintf(stderr, "msgdump: %v\n", err)
			return 1
		}
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	for _, dst := range opts.dsts {
		err := fetch(context.Background(), client, dumpURL(opts, dst), func(line []byte) error {
			if opts.format == "raw" {
				return w.raw(line)
			}
			row, err := analyse(line, opts.timezone)
			if err != nil {
				return err
			}
			return w.row(row)
		})
		if err != nil {
			fmt.Fprintf(stderr, "msgdump: %s: %v\n", dst, err)
			return 2
		}
	}
	if err := w.flush(); err != nil {
		fmt.Fprintf(stderr, "msgdump: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("msgdump", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.age, "age", "a", "24h", "Maximum message age")
	fs.IntVarP(&opts.count, "count", "c", 1000, "Maximum number of messages to dump per destination")
	fs.StringVarP(&opts.format, "format", "f", "", "Output format: txt, csv or raw. Derived from OUTFILE when omitted")
	fs.BoolVarP(&opts.noHeader, "noheader", "n", false, "Don't print a header")
	fs.StringVarP(&opts.order, "order", "o", "expiry", "Message sort key: expiry or stored")
	fs.StringArrayVarP(&opts.dsts, "dst", "s", nil, "Destination number. Can be given multiple times")
	fs.StringVarP(&opts.url, "url", "u", defaultDumpURL, "Dump endpoint URL")
	fs.StringVarP(&opts.timezone, "timezone", "z", defaultTimezone, "Timezone of expiry times quoted in messages")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	fail := func(err error) (options, error) {
		fmt.Fprintf(stderr, "msgdump: %v\n", err)
		return opts, err
	}
	if fs.NArg() > 1 {
		return fail(errors.New("at most one output file"))
	}
	opts.outfile = fs.Arg(0)
	if len(opts.dsts) == 0 {
		return fail(errors.New("at least one -s destination is required"))
	}
	if opts.order != "expiry" && opts.order != "stored" {
		return fail(fmt.Errorf("unknown sort key %q", opts.order))
	}
	if _, err := config.ParseAge(opts.age); err != nil {
		return fail(err)
	}

	opts.format = strings.ToLower(opts.format)
	if opts.format == "" {
		opts.format = formatFromName(opts.outfile)
	}
	if !contains(formats, opts.format) {
		return fail(fmt.Errorf("unknown format %q", opts.format))
	}
	if opts.format == "raw" {
		opts.noHeader = true
	}
	return opts, nil
}

func formatFromName(name string) string {
	sfx := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if contains(formats, sfx) {
		return sfx
	}
	return "txt"
}

func dumpURL(opts options, dst string) string {
	q := url.Values{}
	q.Set("dst", dst)
	q.Set("fmt", "json")
	q.Set("age", opts.age)
	q.Set("orderby", opts.order)
	q.Set("count", strconv.Itoa(opts.count))
	return opts.url + "?" + q.Encode()
}

// fetch calls fn once per JSON line of the response.
func fetch(ctx context.Context, client *http.Client, target string, fn func([]byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type record struct {
	Provider string     `json:"provider"`
	Dst      string     `json:"dst"`
	Msg      string     `json:"msg"`
	Expiry   *time.Time `json:"expiry"`
	Stored   time.Time  `json:"stored"`
}

// analyse derives the OTP and its timings from one dumped message. When the
// record carries no expiry the time quoted in the message text is used.
func analyse(line []byte, timezone string) (map[string]string, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}

	row := map[string]string{
		"provider": rec.Provider,
		"dst":      rec.Dst,
	}
	if m := otpPattern.FindStringSubmatch(rec.Msg); m != nil {
		row["otp"] = m[1]
	}

	stored := rec.Stored.UTC().Round(time.Second)
	row["t_stored"] = stored.Format(timeLayout)

	expiry, ok := expiryOf(rec, timezone)
	if !ok {
		return row, nil
	}
	sent := expiry.Add(-otpLife)
	row["t_expiry"] = expiry.Format(timeLayout)
	row["t_sent"] = sent.Format(timeLayout)
	row["d_transmit"] = seconds(stored.Sub(sent))
	row["d_timetolive"] = seconds(expiry.Sub(stored))
	return row, nil
}

func expiryOf(rec record, timezone string) (time.Time, bool) {
	if rec.Expiry != nil {
		return rec.Expiry.UTC(), true
	}
	msg := rec.Msg
	text, err := fieldgen.GenerateOTPExpiry(authorize.Params{"msg": &msg}, config.FieldSpec{
		Name:      "expiry",
		Generator: fieldgen.OTPExpiry,
		Options:   map[string]string{fieldgen.OptionTimezone: timezone},
	})
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
