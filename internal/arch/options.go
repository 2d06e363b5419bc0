package arch

import "fmt"

// Options are free-form constructor arguments forwarded from configuration.
// Numbers decoded from JSON arrive as float64 and are accepted for int keys.
type Options map[string]any

func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("option %s: %v is not an integer", key, x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("option %s: unsupported type %T", key, v)
	}
}

func (o Options) Int64(key string, def int64) (int64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("option %s: unsupported type %T", key, v)
	}
}

func (o Options) String(key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %s: unsupported type %T", key, v)
	}
	return s, nil
}

// With returns a copy of o with key set.
func (o Options) With(key string, value any) Options {
	out := make(Options, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	out[key] = value
	return out
}
