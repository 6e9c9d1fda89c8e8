package alert

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"msggrabber/internal/config"
)

const (
	queueSize   = 64
	sendTimeout = 30 * time.Second
)

type target struct {
	level log.Level
	to    []string
}

type record struct {
	level log.Level
	text  string
}

// Notifier mails each record to the recipients of every target whose level
// the record reaches. Delivery is best effort: failures are dropped.
type Notifier struct {
	targets []target
	mailer  Mailer
	source  string

	queue chan record
	wg    sync.WaitGroup
	once  sync.Once
}

// NewNotifier validates targets. Malformed levels are an error; recipients
// that are not valid addresses are skipped at send time.
func NewNotifier(targets []config.EmailTarget, mailer Mailer) (*Notifier, error) {
	n := &Notifier{mailer: mailer, queue: make(chan record, queueSize)}
	for i, t := range targets {
		lvl, err := ParseLevel(t.Level)
		if err != nil {
			return nil, fmt.Errorf("email target %d: %w", i, err)
		}
		if len(t.To) == 0 {
			return nil, fmt.Errorf("email target %d: no recipients", i)
		}
		n.targets = append(n.targets, target{level: lvl, to: t.To})
	}
	host, _ := os.Hostname()
	n.source = "msggrabber@" + host

	n.wg.Add(1)
	go n.deliver()
	return n, nil
}

// Recipients returns the valid addresses that should receive a record at
// lvl, deduplicated and sorted.
func (n *Notifier) Recipients(lvl log.Level) []string {
	seen := map[string]struct{}{}
	for _, t := range n.targets {
		if lvl < t.level {
			continue
		}
		for _, addr := range t.to {
			if _, err := mail.ParseAddress(addr); err != nil {
				continue
			}
			seen[addr] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Notify queues a record. It never blocks; records are dropped when the
// queue is full.
func (n *Notifier) Notify(lvl log.Level, text string) {
	if len(n.Recipients(lvl)) == 0 {
		return
	}
	select {
	case n.queue <- record{level: lvl, text: text}:
	default:
	}
}

// Close stops delivery after the queued records are sent.
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.queue)
	})
	n.wg.Wait()
}

func (n *Notifier) deliver() {
	defer n.wg.Done()
	for rec := range n.queue {
		to := n.Recipients(rec.level)
		subject := fmt.Sprintf("%s from %s", rec.level.String(), n.source)
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		// Logging here would feed back into the notifier.
		_ = n.mailer.Send(ctx, to, subject, rec.text)
		cancel()
	}
}

// Tee copies log output to out and hands each line with a level to the
// notifier.
type Tee struct {
	out io.Writer
	n   *Notifier
}

func NewTee(out io.Writer, n *Notifier) *Tee {
	return &Tee{out: out, n: n}
}

func (t *Tee) Write(p []byte) (int, error) {
	written, err := t.out.Write(p)
	if t.n != nil {
		if lvl, ok := levelOf(string(p)); ok {
			t.n.Notify(lvl, string(p))
		}
	}
	return written, err
}
