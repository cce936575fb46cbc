package script

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/ordomods/ordo/pkg/engine"
)

// callArgs builds the (order, modules) arguments of the entry point.
func callArgs(order engine.CanonicalLoadOrder, modules engine.ModuleIndex) (starlark.Tuple, error) {
	entries := order.Entries()
	list := make([]interface{}, len(entries))
	for i, e := range entries {
		list[i] = map[string]interface{}{
			"id":       string(e.ID),
			"name":     e.Name,
			"selected": e.IsSelected,
			"disabled": e.IsDisabled,
			"locked":   string(e.Locked),
			"index":    e.Index,
		}
	}

	mods := make(map[string]interface{}, len(modules))
	for id, m := range modules {
		deps := make([]interface{}, len(m.Dependencies))
		for i, d := range m.Dependencies {
			deps[i] = string(d)
		}
		mods[string(id)] = map[string]interface{}{
			"id":           string(m.ID),
			"name":         m.Name(),
			"version":      m.Version,
			"dependencies": deps,
			"official":     m.IsOfficial,
			"locked":       m.IsLocked,
			"multiplayer":  m.IsMultiplayer,
		}
	}

	orderVal, err := toStarlarkValue(list)
	if err != nil {
		return nil, fmt.Errorf("failed to convert order: %w", err)
	}
	modulesVal, err := toStarlarkValue(mods)
	if err != nil {
		return nil, fmt.Errorf("failed to convert modules: %w", err)
	}
	return starlark.Tuple{orderVal, modulesVal}, nil
}

// decodeResult maps the entry point's return value onto a NormalizeResult.
// Without an "order" key the result carries no ordered view.
func decodeResult(v starlark.Value, order engine.CanonicalLoadOrder, modules engine.ModuleIndex) (*engine.NormalizeResult, error) {
	raw, err := fromStarlarkValue(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s result: %w", EntryPoint, err)
	}
	out, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must return a dict, got %s", EntryPoint, v.Type())
	}

	res := &engine.NormalizeResult{}
	if success, ok := out["success"].(bool); ok {
		res.Success = success
	}

	if reasons, ok := out["reasons"].([]interface{}); ok {
		for _, r := range reasons {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("reasons must be strings, got %T", r)
			}
			res.Reasons = append(res.Reasons, s)
		}
	}

	rawOrder, present := out["order"]
	if !present || rawOrder == nil {
		return res, nil
	}
	ids, ok := rawOrder.([]interface{})
	if !ok {
		return nil, fmt.Errorf("order must be a list of ids, got %T", rawOrder)
	}

	sorted := make([]engine.ModuleID, 0, len(ids))
	for _, item := range ids {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("order must contain strings, got %T", item)
		}
		sorted = append(sorted, engine.ModuleID(s))
	}
	res.Ordered = engine.CanonicalToPresentation(engine.ReorderCanonical(order, sorted), modules)
	return res, nil
}

func stringList(list *starlark.List) ([]string, error) {
	out := make([]string, list.Len())
	for i := 0; i < list.Len(); i++ {
		s, ok := starlark.AsString(list.Index(i))
		if !ok {
			return nil, fmt.Errorf("element %d is %s, want string", i, list.Index(i).Type())
		}
		out[i] = s
	}
	return out, nil
}

func idList(ids []engine.ModuleID) *starlark.List {
	values := make([]starlark.Value, len(ids))
	for i, id := range ids {
		values[i] = starlark.String(id)
	}
	return starlark.NewList(values)
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(seq starlark.Indexable, n int) ([]interface{}, error) {
	list := make([]interface{}, n)
	for i := 0; i < n; i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
