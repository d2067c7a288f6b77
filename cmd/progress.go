package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// progressPrinter redraws a single status line while a multi-target check
// runs. It writes to stderr so structured stdout output stays parseable.
type progressPrinter struct {
	total    int
	name     string
	out      io.Writer
	mu       sync.Mutex
	ok       int
	fail     int
	duration float64
	updates  chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newProgressPrinter(total int, name string, out io.Writer) *progressPrinter {
	if total <= 0 {
		total = 1
	}
	return &progressPrinter{
		total:   total,
		name:    name,
		out:     out,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (p *progressPrinter) Start() {
	go p.loop()
}

func (p *progressPrinter) Increment(success bool, duration float64) {
	p.mu.Lock()
	if success {
		p.ok++
	} else {
		p.fail++
	}
	p.duration += duration
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// Stop ends the redraw loop and prints the final line. Safe to call twice.
func (p *progressPrinter) Stop() {
	first := false
	p.stopOnce.Do(func() {
		first = true
		close(p.done)
	})
	if !first {
		return
	}
	<-p.stopped
	fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", 80))
	p.print()
	fmt.Fprintln(p.out)
}

func (p *progressPrinter) loop() {
	defer close(p.stopped)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) line() string {
	p.mu.Lock()
	ok, fail, dur := p.ok, p.fail, p.duration
	completed := ok + fail
	if completed > p.total {
		p.total = completed
	}
	total := p.total
	p.mu.Unlock()

	percent := (float64(completed) / float64(total)) * 100
	avg := 0.0
	if completed > 0 {
		avg = dur / float64(completed)
	}

	return fmt.Sprintf("[%s] Progress: %d/%d (%.1f%%) OK:%d Fail:%d Avg:%.2fs",
		p.name, completed, total, percent, ok, fail, avg)
}

func (p *progressPrinter) print() {
	fmt.Fprintf(p.out, "\r%s", p.line())
}
