package conversation

import (
	"bytes"
	"encoding/json"
	"strconv"
)

const nullSentinel = "<null>"

// envelopePaths are the frame shapes a completion can arrive in, tried in
// order. The first path present in the frame decides the outcome.
var envelopePaths = [][]string{
	{"message", "result", "data", "aiCompletionResponse"},
	{"message", "aiCompletionResponse"},
	{"result", "data", "aiCompletionResponse"},
	{"aiCompletionResponse"},
}

// completion is a validated aiCompletionResponse payload.
type completion struct {
	ID        string
	RequestID string
	Content   string
	Role      Role
	ThreadID  string
	Timestamp string
	Type      string
	ChunkID   string
	Errors    []string
}

func (c completion) isChunk() bool {
	return c.ChunkID != "" && c.RequestID != ""
}

type extractResult int

const (
	extractNone    extractResult = iota // no known shape
	extractNull                         // subscription alive, no data yet
	extractInvalid                      // missing role, threadId or content
	extractOK
)

// extractCompletion locates and validates the completion inside a raw
// ActionCable frame.
func extractCompletion(frame []byte) (completion, extractResult) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(frame, &root); err != nil {
		return completion{}, extractNone
	}

	var raw json.RawMessage
	found := false
	for _, path := range envelopePaths {
		if v, ok := lookup(root, path); ok {
			raw, found = v, true
			break
		}
	}
	if !found {
		return completion{}, extractNone
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return completion{}, extractNull
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil && s == nullSentinel {
			return completion{}, extractNull
		}
		return completion{}, extractNone
	}

	role, okRole := stringField(obj, "role")
	threadID, okThread := stringField(obj, "threadId")
	content, okContent := stringField(obj, "content")
	if !okRole || !okThread || !okContent || content == "" {
		return completion{}, extractInvalid
	}

	c := completion{
		Role:     parseRole(role),
		ThreadID: threadID,
		Content:  content,
		ChunkID:  normalizeChunkID(obj["chunkId"]),
		Errors:   stringSlice(obj["errors"]),
	}
	c.ID, _ = stringField(obj, "id")
	c.RequestID, _ = stringField(obj, "requestId")
	c.Timestamp, _ = stringField(obj, "timestamp")
	c.Type, _ = stringField(obj, "type")
	return c, extractOK
}

func lookup(obj map[string]json.RawMessage, path []string) (json.RawMessage, bool) {
	raw, ok := obj[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return raw, true
	}
	var next map[string]json.RawMessage
	if err := json.Unmarshal(raw, &next); err != nil || next == nil {
		return nil, false
	}
	return lookup(next, path[1:])
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return "", false
	}
	return *s, true
}

func stringSlice(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// normalizeChunkID renders a numeric or string chunk id as a string. Absent,
// null and the "<null>"/"null" sentinels all become "".
func normalizeChunkID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == nullSentinel || s == "null" {
			return ""
		}
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}
