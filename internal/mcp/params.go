package mcp

import (
	"fmt"
	"strconv"

	"leadignite/api/internal/apperr"
)

// String reads a string parameter; numbers are formatted.
func String(params map[string]any, name string) string {
	switch v := params[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int reads an integer parameter, falling back to def when absent.
func Int(params map[string]any, name string, def int) (int, error) {
	switch v := params[name].(type) {
	case nil:
		return def, nil
	case float64:
		if v != float64(int(v)) {
			return 0, apperr.Invalid(fmt.Sprintf("Parameter %s must be an integer", name), nil)
		}
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, apperr.Invalid(fmt.Sprintf("Parameter %s must be an integer", name), nil)
		}
		return n, nil
	default:
		return 0, apperr.Invalid(fmt.Sprintf("Parameter %s must be an integer", name), nil)
	}
}

// Floats reads a numeric array parameter such as an embedding.
func Floats(params map[string]any, name string) ([]float32, error) {
	raw, ok := params[name].([]any)
	if !ok {
		return nil, apperr.Invalid(fmt.Sprintf("Parameter %s must be an array of numbers", name), nil)
	}
	out := make([]float32, len(raw))
	for i, item := range raw {
		f, ok := item.(float64)
		if !ok {
			return nil, apperr.Invalid(fmt.Sprintf("Parameter %s must be an array of numbers", name), nil)
		}
		out[i] = float32(f)
	}
	return out, nil
}
