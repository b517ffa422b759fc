package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SubmitEntry is the value submitted for one key: either plain text or
// text paired with its content hash. On the wire a plain entry is a JSON
// string and a hashed entry is {"text": ..., "hash": ...}.
type SubmitEntry struct {
	text   string
	hash   string
	hashed bool
}

// Plain returns an entry carrying text only.
func Plain(text string) SubmitEntry {
	return SubmitEntry{text: text}
}

// Hashed returns an entry carrying text and its hash, which lets the
// service skip work it has already done for the same content.
func Hashed(text, hash string) SubmitEntry {
	return SubmitEntry{text: text, hash: hash, hashed: true}
}

// Text returns the source text.
func (e SubmitEntry) Text() string { return e.text }

// Hash returns the content hash and whether the entry carries one.
func (e SubmitEntry) Hash() (string, bool) { return e.hash, e.hashed }

type hashedWire struct {
	Text string `json:"text"`
	Hash string `json:"hash"`
}

func (e SubmitEntry) MarshalJSON() ([]byte, error) {
	if e.hashed {
		return json.Marshal(hashedWire{Text: e.text, Hash: e.hash})
	}
	return json.Marshal(e.text)
}

func (e *SubmitEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = Plain(s)
		return nil
	}
	var w hashedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("submit entry must be a string or {text, hash}: %w", err)
	}
	*e = Hashed(w.Text, w.Hash)
	return nil
}

// Item is one keyed entry of a submission.
type Item struct {
	Key   string
	Entry SubmitEntry
}

// items marshals as a JSON object whose members keep slice order.
type items []Item

func (it items) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range it {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Key)
		if err != nil {
			return nil, err
		}
		val, err := item.Entry.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type submitRequest struct {
	Strings   items    `json:"strings"`
	Languages []string `json:"languages,omitempty"`
}
