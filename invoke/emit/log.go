package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable format with key=value pairs
//   - JSON mode: machine-readable JSON, one event per line (JSONL)
//
// Example text output:
//
//	[invoke_retry] correlationID=b2f1 tool=web_search target=api.example.com meta={"attempt":0,"delay_ms":1000}
//
// Example JSON output:
//
//	{"correlationID":"b2f1","tool":"web_search","target":"api.example.com","msg":"invoke_retry","meta":{"attempt":0,"delay_ms":1000}}
//
// Usage:
//
//	// Text output to stdout
//	emitter := emit.NewLogEmitter(os.Stdout, false)
//
//	// JSON output to file
//	f, _ := os.Create("invocations.jsonl")
//	defer f.Close()
//	emitter := emit.NewLogEmitter(f, true)
//
// A single mutex serializes writes, so events from concurrent invocations
// never interleave within a line.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter.
//
// Parameters:
//   - writer: where to write the log output (nil defaults to os.Stdout)
//   - jsonMode: if true, emit JSON lines; if false, emit text
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] correlationID=%s tool=%s", event.Msg, event.CorrelationID, event.Tool)

	if event.Target != "" {
		fmt.Fprintf(l.writer, " target=%s", event.Target)
	}

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
