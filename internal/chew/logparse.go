package chew

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/onexay/pushwatch/internal/types"
)

const (
	maxLineBytes = 1 << 20
	tailLines    = 20
)

// ParsedLog is what ingestion needs from a parsed log: its overview and the
// processed payload to store verbatim.
type ParsedLog struct {
	Overview  types.Overview
	Processed string
}

// LogParser turns a raw log into a ParsedLog.
type LogParser interface {
	Parse(ctx context.Context, r io.Reader) (ParsedLog, error)
}

// LineParser scans a text log line by line. Lines containing a failure
// marker are reported as failures; a line containing an indicator flags the
// run as failed even when no individual failure was found.
type LineParser struct {
	FailureMarkers    []string
	FailureIndicators []string
}

// DefaultLineParser recognises mozilla-style test harness output.
func DefaultLineParser() LineParser {
	return LineParser{
		FailureMarkers:    []string{"TEST-UNEXPECTED-FAIL", "TEST-UNEXPECTED-ERROR", "TEST-UNEXPECTED-TIMEOUT"},
		FailureIndicators: []string{"FAILURE:", "Tests failed"},
	}
}

type processedLog struct {
	Failures         []string `json:"failures"`
	FailureIndicated bool     `json:"failureIndicated"`
	LineCount        int      `json:"lineCount"`
	Tail             []string `json:"tail"`
}

func (p LineParser) Parse(ctx context.Context, r io.Reader) (ParsedLog, error) {
	out := processedLog{Failures: []string{}, Tail: []string{}}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if out.LineCount%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return ParsedLog{}, err
			}
		}
		line := sc.Text()
		out.LineCount++

		if containsAny(line, p.FailureMarkers) {
			out.Failures = append(out.Failures, strings.TrimSpace(line))
		}
		if containsAny(line, p.FailureIndicators) {
			out.FailureIndicated = true
		}
		out.Tail = append(out.Tail, line)
		if len(out.Tail) > tailLines {
			out.Tail = out.Tail[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return ParsedLog{}, err
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return ParsedLog{}, err
	}
	return ParsedLog{
		Overview:  types.Overview{Failures: out.Failures, FailureIndicated: out.FailureIndicated},
		Processed: string(payload),
	}, nil
}

func containsAny(line string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(line, n) {
			return true
		}
	}
	return false
}
