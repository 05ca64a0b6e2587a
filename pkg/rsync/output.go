package rsync

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// EventKind is the shape of a line of rsync output.
type EventKind int

const (
	// PlainLine is any line that isn't recognized. Within the file list
	// these are the paths being transferred.
	PlainLine EventKind = iota

	// TransferStart marks the beginning of the file list.
	TransferStart

	// StatsLine is the `sent N bytes  received M bytes  R bytes/sec` summary.
	StatsLine

	// TotalSizeLine is the `total size is N  speedup is S` summary.
	TotalSizeLine
)

func (k EventKind) String() string {
	switch k {
	case TransferStart:
		return "transfer-start"
	case StatsLine:
		return "stats"
	case TotalSizeLine:
		return "total-size"
	default:
		return "line"
	}
}

// Stream identifies which of the process's outputs a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Event is one classified line of output. The numeric fields are only set
// for the kinds that carry them.
type Event struct {
	Kind   EventKind
	Stream Stream
	Line   string

	Sent      int64
	Received  int64
	Rate      float64
	TotalSize int64
	Speedup   float64
}

// Stats summarizes a completed transfer.
type Stats struct {
	Sent      int64
	Received  int64
	Rate      float64
	TotalSize int64
	Speedup   float64

	// Files is the number of files in the transfer list, not counting
	// directories. It's zero if rsync didn't print a file list.
	Files int
}

var (
	transferStartRegex = regexp.MustCompile(`^((sending|receiving) incremental file list|building file list)`)
	sentRegex          = regexp.MustCompile(`sent ([\d,]+) bytes`)
	receivedRegex      = regexp.MustCompile(`received ([\d,]+) bytes\s+([\d,.]+) bytes/sec`)
	totalSizeRegex     = regexp.MustCompile(`total size is ([\d,]+)\s+speedup is ([\d,.]+)`)
)

// ClassifyLine recognizes the lines of rsync output that carry structure.
func ClassifyLine(line string) Event {
	event := Event{Kind: PlainLine, Line: line}

	if transferStartRegex.MatchString(line) {
		event.Kind = TransferStart
		return event
	}

	sent := sentRegex.FindStringSubmatch(line)
	received := receivedRegex.FindStringSubmatch(line)
	if sent != nil && received != nil {
		event.Kind = StatsLine
		event.Sent = parseInt(sent[1])
		event.Received = parseInt(received[1])
		event.Rate = parseFloat(received[2])
		return event
	}

	if total := totalSizeRegex.FindStringSubmatch(line); total != nil {
		event.Kind = TotalSizeLine
		event.TotalSize = parseInt(total[1])
		event.Speedup = parseFloat(total[2])
	}
	return event
}

// Output collects one stream of a process's output. Writes may split lines
// arbitrarily; complete lines are classified and passed to the emit
// callback as soon as they're terminated.
type Output struct {
	stream Stream
	emit   func(Event)

	lock    sync.Mutex
	all     bytes.Buffer
	partial []byte
	lastCR  bool

	inFileList bool
	sawList    bool
	files      int
}

// NewOutput creates an Output for `stream`. `emit` may be nil.
func NewOutput(stream Stream, emit func(Event)) *Output {
	return &Output{stream: stream, emit: emit}
}

// Write implements io.Writer. Both `\n` and `\r` terminate lines so that
// progress updates are surfaced as they're printed.
func (o *Output) Write(p []byte) (int, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.all.Write(p)
	for _, b := range p {
		switch b {
		case '\n':
			if o.lastCR {
				o.lastCR = false
				continue
			}
			o.line()
		case '\r':
			o.line()
			o.lastCR = true
			continue
		default:
			o.partial = append(o.partial, b)
		}
		o.lastCR = false
	}
	return len(p), nil
}

// Flush emits any trailing output that wasn't terminated by a newline.
func (o *Output) Flush() {
	o.lock.Lock()
	defer o.lock.Unlock()

	if len(o.partial) > 0 {
		o.line()
	}
}

// Must be called with the lock held.
func (o *Output) line() {
	line := string(o.partial)
	o.partial = o.partial[:0]

	event := ClassifyLine(line)
	event.Stream = o.stream
	switch {
	case event.Kind == TransferStart:
		o.inFileList = true
		o.sawList = true
	case o.inFileList && strings.TrimSpace(line) == "":
		o.inFileList = false
	case o.inFileList && event.Kind == PlainLine && !strings.HasSuffix(line, "/"):
		o.files++
	}

	if o.emit != nil {
		o.emit(event)
	}
}

// String returns everything written so far.
func (o *Output) String() string {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.all.String()
}

// Stats parses the transfer summary from everything written so far. The
// sent and received counters are matched independently so that a summary
// that was split across writes, or across lines, still parses.
func (o *Output) Stats() Stats {
	o.lock.Lock()
	defer o.lock.Unlock()

	out := o.all.String()
	var stats Stats
	if sent := sentRegex.FindStringSubmatch(out); sent != nil {
		stats.Sent = parseInt(sent[1])
	}
	if received := receivedRegex.FindStringSubmatch(out); received != nil {
		stats.Received = parseInt(received[1])
		stats.Rate = parseFloat(received[2])
	}
	if total := totalSizeRegex.FindStringSubmatch(out); total != nil {
		stats.TotalSize = parseInt(total[1])
		stats.Speedup = parseFloat(total[2])
	}
	if o.sawList {
		stats.Files = o.files
	}
	return stats
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return f
}

// lastLines returns at most `n` non-empty trailing lines of `s`.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
