package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wezm/node-simperium/internal/jsondiff"
)

// InitPayload is the JSON body of an outbound "init" command (§6).
type InitPayload struct {
	ClientID string `json:"clientid"`
	API      int    `json:"api"`
	AppID    string `json:"app_id"`
	Token    string `json:"token"`
	Name     string `json:"name"`
	Library  string `json:"library"`
	Version  string `json:"version"`
}

// IndexRequest renders the "i:<offset>:<mark>:<limit>:<since>" body. mark
// is the opaque pagination cursor the server hands back in
// IndexResponse.Mark ("" on the first page of a fresh index); offset is
// written verbatim (the channel always sends "1").
func IndexRequest(offset, mark, limit, since string) string {
	return fmt.Sprintf("i:%s:%s:%s:%s", offset, mark, limit, since)
}

// IndexEntry is one entry of an inbound index page.
type IndexEntry struct {
	ID      string          `json:"id"`
	Version int             `json:"v"`
	Data    json.RawMessage `json:"d"`
}

// IndexResponse is the JSON body of an inbound "i" frame.
type IndexResponse struct {
	Index   []IndexEntry `json:"index"`
	Mark    string       `json:"mark,omitempty"`
	Current string       `json:"current"`
}

// ChangePayload is the JSON shape of a "c" frame, both directions (§6).
type ChangePayload struct {
	ClientID string                      `json:"clientid,omitempty"`
	ID       string                      `json:"id"`
	Op       string                      `json:"o"` // "M" or "-"
	Ops      jsondiff.ObjectOperationSet `json:"v,omitempty"`
	SV       *int                        `json:"sv,omitempty"`
	EV       int                         `json:"ev,omitempty"`
	CCID     string                      `json:"ccid"`
	Data     json.RawMessage             `json:"d,omitempty"`
	Error    string                      `json:"error,omitempty"`
}

// ParseChangeFrame decodes a "c:" body, which is a single change object or
// a JSON array of them.
func ParseChangeFrame(body string) ([]ChangePayload, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, fmt.Errorf("wire: empty change frame")
	}
	if trimmed == "?" {
		return nil, fmt.Errorf("wire: server error frame")
	}
	if trimmed[0] == '[' {
		var batch []ChangePayload
		if err := json.Unmarshal([]byte(trimmed), &batch); err != nil {
			return nil, fmt.Errorf("wire: malformed change batch: %w", err)
		}
		return batch, nil
	}
	var one ChangePayload
	if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
		return nil, fmt.Errorf("wire: malformed change: %w", err)
	}
	return []ChangePayload{one}, nil
}

// EncodeChangeFrame renders a single outbound change as the "c:" body.
func EncodeChangeFrame(p ChangePayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("wire: encode change: %w", err)
	}
	return "c:" + string(b), nil
}

// EntityRequest renders the "e:<id>.<version>" body.
func EntityRequest(id string, version int) string {
	return fmt.Sprintf("e:%s.%d", id, version)
}

// EntityResponse is the decoded form of an inbound "e" frame, whose body is
// "<id>.<version>\n<json>".
type EntityResponse struct {
	ID      string
	Version int
	Data    json.RawMessage
}

// ParseEntityFrame decodes an inbound "e" body.
func ParseEntityFrame(body string) (EntityResponse, error) {
	head, rest, ok := strings.Cut(body, "\n")
	if !ok {
		return EntityResponse{}, fmt.Errorf("wire: malformed entity frame: no newline")
	}
	idStr, verStr, ok := strings.Cut(head, ".")
	if !ok {
		return EntityResponse{}, fmt.Errorf("wire: malformed entity header %q", head)
	}
	version, err := strconv.Atoi(verStr)
	if err != nil {
		return EntityResponse{}, fmt.Errorf("wire: bad entity version %q: %w", verStr, err)
	}
	return EntityResponse{ID: idStr, Version: version, Data: json.RawMessage(rest)}, nil
}

// ChangeVersion renders the "cv:<cv>" body, the change-version checkpoint.
func ChangeVersion(cv string) string {
	return "cv:" + cv
}
