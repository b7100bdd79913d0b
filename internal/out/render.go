// Package out serializes response envelopes to stdout in either JSON or
// a line-oriented plain format suitable for grep and awk.
package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/airswap/aggregator-aggregator/internal/config"
	"github.com/airswap/aggregator-aggregator/internal/model"
)

// Render writes env to w according to the output settings. SelectFields
// projects the data section down to the named keys; ResultsOnly drops the
// envelope wrapper entirely.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			return writeJSON(w, data)
		}
		return renderPlain(w, data)
	}

	if settings.OutputMode == "json" {
		env.Data = data
		return writeJSON(w, env)
	}

	wrapped := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		wrapped["error"] = env.Error
	}
	return renderPlain(w, wrapped)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain emits one line per element. Slices become one line per entry
// so quote listings stay pipe-friendly; everything else is a single line.
func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for i := 0; i < v.Len(); i++ {
			if err := writeLine(w, v.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	return writeLine(w, data)
}

func writeLine(w io.Writer, v any) error {
	line, err := formatLine(asJSONValue(v))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, line)
	return err
}

// project narrows the data payload to the requested field names. It works
// on both single objects and lists of objects; scalar payloads pass through
// untouched since there is nothing to select from.
func project(data any, fields []string) any {
	switch t := asJSONValue(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, pickFields(m, fields))
			}
		}
		return out
	case map[string]any:
		return pickFields(t, fields)
	default:
		return t
	}
}

func pickFields(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

// asJSONValue round-trips v through JSON so struct fields surface under
// their wire names rather than their Go names.
func asJSONValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

// formatLine renders maps as sorted key=value pairs and all other values
// as compact JSON.
func formatLine(v any) (string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " "), nil
}
