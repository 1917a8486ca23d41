package live

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Message types.
const (
	TypeAdded   = "added"
	TypeRemoved = "removed"
	TypeReset   = "reset"
	TypeApply   = "apply"
)

// Message is a frame exchanged with the live page.
//
// The page sends added, removed and reset; the client sends apply.
type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func messageSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse message schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("message.json", doc); err != nil {
			schemaErr = fmt.Errorf("load message schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("message.json")
	})
	return schema, schemaErr
}

// DecodeMessage validates data against the page message schema and decodes
// it.
func DecodeMessage(data []byte) (Message, error) {
	sch, err := messageSchema()
	if err != nil {
		return Message{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := sch.Validate(inst); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return m, nil
}
