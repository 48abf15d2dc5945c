package orchestrator

import "github.com/sketchtocad/sagaflow/types"

// Accessors for the loosely typed payload and result documents. JSON decoding
// yields float64 for numbers and []any / map[string]any for collections;
// these normalize back to the shapes the typed constructors take.

func stringField(doc types.Document, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func intField(doc types.Document, key string) int {
	switch v := doc[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatField(doc types.Document, key string) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func docField(doc types.Document, key string) types.Document {
	switch v := doc[key].(type) {
	case types.Document:
		return v
	case map[string]any:
		return types.Document(v)
	default:
		return types.Document{}
	}
}

func docSliceField(doc types.Document, key string) []types.Document {
	switch v := doc[key].(type) {
	case []types.Document:
		return v
	case []any:
		out := make([]types.Document, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, types.Document(m))
			}
		}
		return out
	default:
		return nil
	}
}

func stringSliceField(doc types.Document, key string) []string {
	switch v := doc[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
