package cmd

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

// syncBuffer guards a bytes.Buffer shared with the redraw goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinterLifecycle(t *testing.T) {
	var out syncBuffer
	printer := newProgressPrinter(0, "headers", &out)
	if printer.total != 1 {
		t.Fatalf("expected total to be clamped to 1, got %d", printer.total)
	}

	printer.Start()
	printer.Increment(true, 0.5)
	printer.Increment(false, 1.0)
	printer.Stop()
	printer.Stop()

	output := out.String()
	if !strings.Contains(output, "[headers] Progress: 2/2") {
		t.Fatalf("expected summary progress, got %q", output)
	}
	if !strings.Contains(output, "OK:1") || !strings.Contains(output, "Fail:1") {
		t.Fatalf("expected OK/Fail counts in output, got %q", output)
	}
	if !strings.Contains(output, "Avg:0.75s") {
		t.Fatalf("expected average duration in output, got %q", output)
	}
	if !strings.HasSuffix(output, "\n") {
		t.Fatalf("expected final newline, got %q", output)
	}
}

func TestProgressPrinterLine(t *testing.T) {
	printer := newProgressPrinter(4, "ssl", &bytes.Buffer{})
	printer.Increment(true, 2)
	if got := printer.line(); got != "[ssl] Progress: 1/4 (25.0%) OK:1 Fail:0 Avg:2.00s" {
		t.Fatalf("unexpected line %q", got)
	}
}
