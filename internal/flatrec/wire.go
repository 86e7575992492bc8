// Package flatrec defines the JSON payloads stored under flat-record keys
// and fabricates records for synthetic pushes.
package flatrec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// PushID is a push identifier that decodes from a JSON number with an
// integral value or from a numeric string. It always encodes as an integer.
type PushID int64

func (id *PushID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*id = PushID(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		return fmt.Errorf("push id %q is not an integer", data)
	}
	*id = PushID(f)
	return nil
}

// UnixSeconds is a push date in seconds since the epoch. Fractional seconds
// are kept to millisecond precision.
type UnixSeconds float64

// Time converts the date to a UTC time.
func (s UnixSeconds) Time() time.Time {
	return time.UnixMilli(int64(math.Round(float64(s) * 1000))).UTC()
}

// PushRecord is the payload of a push key.
type PushRecord struct {
	ID         PushID            `json:"id"`
	Date       UnixSeconds       `json:"date"`
	User       string            `json:"user"`
	Changesets []ChangesetRecord `json:"changesets"`
}

// ChangesetRecord is one changeset of a PushRecord.
type ChangesetRecord struct {
	ShortRev string   `json:"shortRev"`
	Node     string   `json:"node"`
	Author   string   `json:"author"`
	Branch   string   `json:"branch"`
	Tags     []string `json:"tags"`
	Desc     string   `json:"desc"`
	Files    []string `json:"files"`
}

// BuildRecord is the payload fabricated for a synthetic build. Builds read
// back from a flat record stay opaque.
type BuildRecord struct {
	Builder     Builder           `json:"builder"`
	ID          string            `json:"id"`
	State       string            `json:"state"`
	StartTime   int64             `json:"startTime"`
	EndTime     int64             `json:"endTime"`
	LogURL      string            `json:"logURL"`
	Revs        map[string]string `json:"revs"`
	RichNotes   []string          `json:"richNotes"`
	ErrorParser string            `json:"errorParser"`
	Scrape      string            `json:"_scrape"`
}

// Builder describes the machine and job that produced a build.
type Builder struct {
	Name    string      `json:"name"`
	OS      BuilderOS   `json:"os"`
	IsDebug bool        `json:"isDebug"`
	Type    BuilderType `json:"type"`
}

type BuilderOS struct {
	Idiom    string  `json:"idiom"`
	Platform string  `json:"platform"`
	Arch     string  `json:"arch"`
	Ver      *string `json:"ver"`
}

type BuilderType struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// ParsePush decodes a push payload. The payload must be an object carrying
// both id and date.
func ParsePush(raw string) (PushRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return PushRecord{}, err
	}
	if fields == nil {
		return PushRecord{}, errors.New("push payload is not an object")
	}
	for _, name := range []string{"id", "date"} {
		if v, ok := fields[name]; !ok || string(bytes.TrimSpace(v)) == "null" {
			return PushRecord{}, fmt.Errorf("push payload has no %s", name)
		}
	}

	var rec PushRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return PushRecord{}, err
	}
	return rec, nil
}

// ParseBuild decodes a build payload into a generic JSON object.
func ParseBuild(raw string) (map[string]any, error) {
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("build payload is not an object")
	}
	return rec, nil
}
