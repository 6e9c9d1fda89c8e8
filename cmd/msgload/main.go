// Command msgload replays JSON-lines message records into a running
// msggrabber ingest endpoint. Records in the format written by
// "msgdump -f raw" can be loaded directly.
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
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const defaultLoadURL = "http://localhost:8080/in-bulk"

var loadFields = []string{"src", "dst", "msg", "sent", "recv", "expiry"}

type options struct {
	count    int
	post     bool
	response bool
	url      string
	files    []string
}

// loader sends one record per call.
type loader struct {
	client *http.Client
	url    string
	post   bool
}

// httpError reports a non-2xx answer from the server.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, strings.TrimSpace(e.body))
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 1
	}

	l := &loader{client: &http.Client{Timeout: 30 * time.Second}, url: opts.url, post: opts.post}
	count := 0
	for _, name := range opts.files {
		n, err := loadFile(context.Background(), l, name, stdin, opts, count, stdout, stderr)
		count += n
		if err != nil {
			fmt.Fprintln(stderr, err)
			var herr *httpError
			if errors.As(err, &herr) {
				fmt.Fprintln(stderr, "Abort.")
				return 2
			}
			return 1
		}
		if opts.count > 0 && count >= opts.count {
			break
		}
	}
	fmt.Fprintf(stderr, "%6d records loaded.\n", count)
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("msgload", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVarP(&opts.count, "count", "c", 0, "Maximum number of messages to load. 0 loads all.")
	fs.BoolVarP(&opts.post, "post", "p", false, "Use POST instead of GET to load the messages")
	fs.BoolVarP(&opts.response, "response", "r", false, "Print server responses instead of the load count")
	fs.StringVarP(&opts.url, "url", "u", defaultLoadURL, "Ingest endpoint URL")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.files = fs.Args()
	if len(opts.files) == 0 {
		err := errors.New("at least one input file is required (- for stdin)")
		fmt.Fprintln(stderr, err)
		return opts, err
	}
	return opts, nil
}

func loadFile(ctx context.Context, l *loader, name string, stdin io.Reader, opts options, loaded int, stdout, stderr io.Writer) (int, error) {
	var r io.Reader = stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}

	n := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if opts.count > 0 && loaded+n >= opts.count {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		values, err := recordValues([]byte(line))
		if err != nil {
			return n, fmt.Errorf("%s: %w", name, err)
		}
		body, err := l.send(ctx, values)
		if err != nil {
			return n, err
		}
		n++
		if opts.response {
			fmt.Fprintln(stdout, strings.TrimSpace(body))
		}
	}
	return n, scanner.Err()
}

// recordValues keeps the non-empty message fields of one JSON record.
func recordValues(line []byte) (url.Values, error) {
	var rec map[string]any
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	values := url.Values{}
	for _, k := range loadFields {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		default:
			s = fmt.Sprint(t)
		}
		if s != "" {
			values.Set(k, s)
		}
	}
	return values, nil
}

func (l *loader) send(ctx context.Context, values url.Values) (string, error) {
	var (
		req *http.Request
		err error
	)
	if l.post {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, l.url, strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target := l.url
		if enc := values.Encode(); enc != "" {
			target += "?" + enc
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	if err != nil {
		return "", err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &httpError{status: resp.StatusCode, body: string(body)}
	}
	return string(body), nil
}
