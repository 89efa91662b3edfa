package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// readOnlyPaths cannot be changed through SetByPath. The storage DSN may carry
// credentials and is edited in the file or through ${VAR} expansion instead.
var readOnlyPaths = map[string]bool{
	"storage.dsn": true,
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// fieldType resolves a dotted path against the Config struct by json tag.
// Map sections (ai.providers) accept any key.
func fieldType(path string) (reflect.Type, error) {
	t := reflect.TypeOf(Config{})
	for _, key := range strings.Split(path, ".") {
		switch t.Kind() {
		case reflect.Struct:
			f, ok := jsonField(t, key)
			if !ok {
				return nil, fmt.Errorf("unknown config path: %s", path)
			}
			t = f.Type
		case reflect.Map:
			if key == "" {
				return nil, fmt.Errorf("empty key in %s", path)
			}
			t = t.Elem()
		default:
			return nil, fmt.Errorf("unknown config path: %s", path)
		}
	}
	return t, nil
}

func jsonField(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if strings.Split(f.Tag.Get("json"), ",")[0] == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// GetByPath returns the value at a dotted path such as
// "platforms.whatsapp.autoReply" or "server.allowedOrigins.0". Known fields
// that are empty in the file return their zero value.
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				t, err := fieldType(path)
				if err != nil {
					return nil, err
				}
				return reflect.Zero(t).Interface(), nil
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("%s is a %T, not a section", key, current)
		}
	}
	return current, nil
}

// SetByPath parses raw as the type of the field at path and writes it. A
// string field keeps "123" as text, an int field rejects "2.5", and a list of
// strings takes comma-separated values. The updated config must pass
// Validate; on any error cfg is left unchanged.
func SetByPath(cfg *Config, path, raw string) error {
	if readOnlyPaths[path] {
		return fmt.Errorf("%s cannot be set from the command line; edit the config file", path)
	}
	t, err := fieldType(path)
	if err != nil {
		return err
	}
	value, err := parseAs(t, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	m, err := toMap(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			child = make(map[string]any)
			parent[key] = child
		}
		parent = child
	}
	parent[parts[len(parts)-1]] = value

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	next := Defaults()
	next.AI.Providers = nil
	if err := json.Unmarshal(data, next); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(next); err != nil {
		return err
	}
	*cfg = *next
	return nil
}

func parseAs(t reflect.Type, raw string) (any, error) {
	switch t.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
		return b, nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", raw)
		}
		return n, nil
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return f, nil
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			return nil, fmt.Errorf("list of %s cannot be set from a string; edit the config file", t.Elem().Name())
		}
		out := []string{}
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot replace a whole section")
}

// Sanitize returns a copy of the config with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	for name, prov := range out.AI.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
		}
		out.AI.Providers[name] = prov
	}
	for _, pc := range []*PlatformConfig{&out.Platforms.Facebook, &out.Platforms.Instagram, &out.Platforms.WhatsApp} {
		if pc.AppSecret != "" {
			pc.AppSecret = maskString(pc.AppSecret)
		}
		if pc.AccessToken != "" {
			pc.AccessToken = maskString(pc.AccessToken)
		}
		if pc.VerifyToken != "" {
			pc.VerifyToken = "***"
		}
	}
	if out.Storage.Driver == "postgres" && out.Storage.DSN != "" {
		out.Storage.DSN = maskString(out.Storage.DSN)
	}

	return &out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the sanitized config into dotted leaves. Lists stay
// whole, matching how SetByPath takes them.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(Sanitize(cfg))
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(path, sub, out)
			continue
		}
		out[path] = v
	}
}
