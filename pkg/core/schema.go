package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Property describes one tool parameter. Keywords without a field of their
// own (items, minimum, anyOf, format, nested properties, ...) are kept
// verbatim in Extra so a decoded schema encodes back to the same document.
type Property struct {
	Name        string
	Type        string
	Description string
	Default     any
	Enum        []any
	Extra       map[string]json.RawMessage
}

// MarshalJSON encodes the property as a JSON Schema object.
func (p Property) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.Type != "" {
		out["type"] = p.Type
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.Default != nil {
		out["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a JSON Schema property. A keyword whose value does
// not fit its field, such as a list of types or a null default, stays in
// Extra.
func (p *Property) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out := Property{Name: p.Name}
	take := func(key string, dst any) {
		raw, ok := doc[key]
		if !ok || string(bytes.TrimSpace(raw)) == "null" {
			return
		}
		if err := json.Unmarshal(raw, dst); err == nil {
			delete(doc, key)
		}
	}
	take("type", &out.Type)
	take("description", &out.Description)
	take("default", &out.Default)
	take("enum", &out.Enum)
	if len(doc) > 0 {
		out.Extra = doc
	}
	*p = out
	return nil
}

// Schema is the argument schema of a tool: an ordered list of parameters
// plus the names that must be supplied. It serialises as a JSON Schema
// object and keeps property order across a decode.
type Schema struct {
	Title      string
	Properties []Property
	Required   []string
}

// NewSchema builds an object schema from the given properties.
func NewSchema(title string, props ...Property) Schema {
	return Schema{Title: title, Properties: props}
}

// WithRequired returns a copy of s with the given required names.
func (s Schema) WithRequired(names ...string) Schema {
	s.Required = append([]string(nil), names...)
	return s
}

// Property returns the named parameter.
func (s Schema) Property(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Names returns parameter names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		names[i] = p.Name
	}
	return names
}

// PropertiesMap returns the properties keyed by name, in the generic form
// used by JSON Schema consumers.
func (s Schema) PropertiesMap() map[string]any {
	out := make(map[string]any, len(s.Properties))
	for _, p := range s.Properties {
		prop := map[string]any{}
		if p.Type != "" {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		for k, raw := range p.Extra {
			var v any
			if err := json.Unmarshal(raw, &v); err == nil {
				prop[k] = v
			}
		}
		out[p.Name] = prop
	}
	return out
}

// MarshalJSON encodes the schema as a JSON Schema object with properties in
// declaration order.
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{`)
	if s.Title != "" {
		title, err := json.Marshal(s.Title)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"title":`)
		buf.Write(title)
		buf.WriteString(`,`)
	}
	buf.WriteString(`"type":"object","properties":{`)
	for i, p := range s.Properties {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteString(`}`)
	if len(s.Required) > 0 {
		req, err := json.Marshal(s.Required)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"required":`)
		buf.Write(req)
	}
	buf.WriteString(`}`)
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON Schema object. Only object schemas are
// accepted; property order follows the document.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var doc struct {
		Title      string          `json:"title"`
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Type != "" && doc.Type != "object" {
		return fmt.Errorf("schema: unsupported type %q", doc.Type)
	}
	props, err := decodeOrderedProperties(doc.Properties)
	if err != nil {
		return err
	}
	*s = Schema{Title: doc.Title, Properties: props, Required: doc.Required}
	return nil
}

func decodeOrderedProperties(raw json.RawMessage) ([]Property, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("schema properties: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("schema properties: expected object")
	}
	var props []Property
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("schema properties: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("schema properties: expected key")
		}
		var p Property
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("schema property %q: %w", name, err)
		}
		p.Name = name
		props = append(props, p)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("schema properties: %w", err)
	}
	return props, nil
}
