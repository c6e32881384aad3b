package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// export is the Jira search API response shape.
type export struct {
	Total  int     `json:"total"`
	Issues []issue `json:"issues"`
}

type issue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     json.RawMessage `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      json.RawMessage `json:"status"`
		Comment     json.RawMessage `json:"comment"`
	} `json:"fields"`
}

type rawComment struct {
	Author  json.RawMessage `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created string          `json:"created"`
}

// Load reads a Jira export file.
func Load(path string) ([]ticket.Ticket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read tickets %s: %w", path, err)
	}
	defer f.Close()

	tickets, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("parse tickets %s: %w", path, err)
	}
	return tickets, nil
}

// Decode parses a Jira export: either the search response object with an
// "issues" array, or a bare array of issues. Fields with an unexpected shape
// degrade to empty values instead of failing the whole document.
func Decode(r io.Reader) ([]ticket.Ticket, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	var issues []issue
	if data[0] == '[' {
		if err := json.Unmarshal(data, &issues); err != nil {
			return nil, err
		}
	} else {
		var exp export
		if err := json.Unmarshal(data, &exp); err != nil {
			return nil, err
		}
		issues = exp.Issues
	}

	tickets := make([]ticket.Ticket, 0, len(issues))
	for _, is := range issues {
		tickets = append(tickets, convert(is))
	}
	return tickets, nil
}

func convert(is issue) ticket.Ticket {
	t := ticket.Ticket{
		Key:         is.Key,
		Description: optionalString(is.Fields.Description),
	}
	if s := optionalString(is.Fields.Summary); s != nil {
		t.Summary = *s
	}

	var status struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(is.Fields.Status, &status) == nil {
		t.Status = status.Name
	}

	t.Comments, t.CommentsMalformed = comments(is.Fields.Comment)
	return t
}

// comments extracts comment.comments. A missing field is an empty thread.
// Entries that are not objects are skipped, except the last one: the thread
// is malformed when its last entry, or the field itself, has the wrong shape.
func comments(raw json.RawMessage) ([]ticket.Comment, bool) {
	if isAbsent(raw) {
		return nil, false
	}
	var wrapper struct {
		Comments json.RawMessage `json:"comments"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, true
	}
	if isAbsent(wrapper.Comments) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(wrapper.Comments, &items); err != nil {
		return nil, true
	}

	out := make([]ticket.Comment, 0, len(items))
	for i, item := range items {
		var rc rawComment
		if bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) && json.Unmarshal(item, &rc) == nil {
			out = append(out, ticket.Comment{
				Author:  authorName(rc.Author),
				Body:    optionalString(rc.Body),
				Created: rc.Created,
			})
			continue
		}
		if i == len(items)-1 {
			return out, true
		}
	}
	return out, false
}

func authorName(raw json.RawMessage) string {
	var a struct {
		DisplayName string `json:"displayName"`
		Name        string `json:"name"`
	}
	if json.Unmarshal(raw, &a) != nil {
		return ""
	}
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

// optionalString returns the JSON string value, or nil for absent, null or
// non-string values (for example rich-text documents).
func optionalString(raw json.RawMessage) *string {
	if isAbsent(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
