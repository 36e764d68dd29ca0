package tracker

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ProjectsResponse is the response from GET /v1/projects. Entries are
// decoded one at a time so a single bad project does not spoil the page.
type ProjectsResponse struct {
	Data []json.RawMessage `json:"data"`
}

// Project is a single project entry. Every field is optional on the wire.
type Project struct {
	ID             flexString      `json:"id"`
	Name           looseString     `json:"name"`
	TaskStatistics *TaskStatistics `json:"task_statistics"`
}

// TaskStatistics holds the per-project task counters.
type TaskStatistics struct {
	Total flexInt `json:"total"`
	Draft flexInt `json:"draft"`
}

// flexString accepts a JSON string or number. null decodes as "".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// looseString is a display value: a string or number is kept as text and
// anything else decodes as "".
type looseString string

func (l *looseString) UnmarshalJSON(data []byte) error {
	var f flexString
	if err := f.UnmarshalJSON(data); err != nil {
		*l = ""
		return nil
	}
	*l = looseString(f)
	return nil
}

// flexInt accepts a JSON number, numeric string or null. Anything that
// cannot be read as a count decodes as zero.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt(n)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(int(v))
		return nil
	}
	*f = 0
	return nil
}
