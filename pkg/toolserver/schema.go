package toolserver

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// toolSchema wraps a compiled input schema. A nil *toolSchema accepts anything.
type toolSchema struct {
	schema *gojsonschema.Schema
}

func compileSchema(raw []byte) (*toolSchema, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	return &toolSchema{schema: schema}, nil
}

func (s *toolSchema) validate(args map[string]interface{}) error {
	if s == nil || s.schema == nil {
		return nil
	}

	result, err := s.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errors = append(errors, e.String())
		}
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// parseCallResult flattens the MCP content array into text. Results that do
// not follow the content convention are returned verbatim.
func parseCallResult(raw []byte) CallResult {
	res := CallResult{Raw: append([]byte(nil), raw...)}
	parsed := gjson.ParseBytes(raw)

	content := parsed.Get("content")
	if !content.IsArray() {
		res.Text = strings.TrimSpace(string(raw))
		res.IsError = parsed.Get("isError").Bool()
		return res
	}

	var b strings.Builder
	content.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "text":
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(item.Get("text").String())
		case "resource":
			if text := item.Get("resource.text"); text.Exists() {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(text.String())
			}
		}
		return true
	})

	res.Text = b.String()
	res.IsError = parsed.Get("isError").Bool()
	return res
}
