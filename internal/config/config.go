package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/shellkeeper/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "SHELLKEEPER_"

// LoadConfig loads configuration with proper precedence: CLI args > env vars > config file.
// If cmd is provided, flags explicitly set via CLI will not be overwritten.
// Fields of embedded structs are treated as if they were declared on opts.
func LoadConfig(opts any, cmd *cobra.Command) error {
	fields := collectFields(reflect.ValueOf(opts).Elem())

	// Build set of flags explicitly changed via CLI
	changedFlags := make(map[string]bool)
	if cmd != nil {
		// Persistent flags set on a subcommand are shared with the root
		markChanged := func(f *pflag.Flag) {
			if f.Changed {
				changedFlags[f.Name] = true
			}
		}
		cmd.Flags().VisitAll(markChanged)
		cmd.PersistentFlags().VisitAll(markChanged)
	}

	var configPath string
	for _, f := range fields {
		if f.meta.Name == "Config" && f.value.Kind() == reflect.String {
			configPath = f.value.String()
			break
		}
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			var config map[string]any
			if err := toml.Unmarshal(data, &config); err != nil {
				return fmt.Errorf("failed to parse TOML config %s: %w", configPath, err)
			}

			for _, f := range fields {
				if changedFlags[flagName(f.meta)] {
					continue
				}
				if tomlPath := f.meta.Tag.Get("toml"); tomlPath != "" {
					if value := getNestedValue(config, tomlPath); value != nil {
						setFieldValue(f.value, value)
					}
				}
			}
		}
	}

	for _, f := range fields {
		if changedFlags[flagName(f.meta)] {
			continue
		}
		if envKey := f.meta.Tag.Get("env"); envKey != "" {
			if envValue := os.Getenv(EnvPrefix + envKey); envValue != "" {
				setFieldValueFromString(f.value, envValue)
			}
		}
	}

	return nil
}

type field struct {
	meta  reflect.StructField
	value reflect.Value
}

func collectFields(v reflect.Value) []field {
	t := v.Type()
	var fields []field
	for i := range v.NumField() {
		meta := t.Field(i)
		if !meta.IsExported() {
			continue
		}
		if meta.Anonymous && meta.Type.Kind() == reflect.Struct {
			fields = append(fields, collectFields(v.Field(i))...)
			continue
		}
		fields = append(fields, field{meta: meta, value: v.Field(i)})
	}
	return fields
}

// flagName returns the CLI flag name humacli registers for a field.
func flagName(f reflect.StructField) string {
	if name := f.Tag.Get("name"); name != "" {
		return name
	}
	return fieldNameToFlag(f.Name)
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "ReadinessURL" -> "readiness-url".
func fieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var result []rune
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				result = append(result, '-')
			}
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		if next, ok := current[part].(map[string]any); ok {
			current = next
		} else {
			return nil
		}
	}
	return nil
}

// setFieldValue sets a field value using reflection.
// TOML arrays assigned to string fields are encoded with JoinList so that
// SplitList can recover the exact elements.
func setFieldValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		switch v := value.(type) {
		case string:
			field.SetString(v)
		case []any:
			field.SetString(JoinList(stringsOf(v)))
		case int64, float64, bool:
			field.SetString(fmt.Sprint(v))
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if i, ok := value.(int64); ok {
			field.SetInt(i)
		} else if i, intOk := value.(int); intOk {
			field.SetInt(int64(i))
		}
	case reflect.Float64:
		switch f := value.(type) {
		case float64:
			field.SetFloat(f)
		case int64:
			field.SetFloat(float64(f))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			if arr, ok := value.([]any); ok {
				field.Set(reflect.ValueOf(stringsOf(arr)))
			}
		}
	}
}

func stringsOf(arr []any) []string {
	out := make([]string, len(arr))
	for i, v := range arr {
		if s, ok := v.(string); ok {
			out[i] = s
		} else {
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

// setFieldValueFromString sets a field value from string (for env vars).
func setFieldValueFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Parse comma-separated values for env vars
			parts := strings.Split(value, ",")
			slice := make([]string, len(parts))
			for i, part := range parts {
				slice[i] = strings.TrimSpace(part)
			}
			field.Set(reflect.ValueOf(slice))
		}
	}
}

// listSep separates the elements of an encoded list. NUL cannot occur in an
// argument or environment entry.
const listSep = "\x00"

// JoinList encodes elems for a string option so that SplitList returns them
// unchanged, including inner spaces and empty elements.
func JoinList(elems []string) string {
	return listSep + strings.Join(elems, listSep)
}

// SplitList splits a list-valued option. Values encoded by JoinList (TOML
// arrays) come back element for element; values from flags or env vars are
// split on whitespace.
func SplitList(value string) []string {
	if rest, ok := strings.CutPrefix(value, listSep); ok {
		if rest == "" {
			return []string{}
		}
		return strings.Split(rest, listSep)
	}
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return strings.Fields(value)
}

// ReadLoggingConfig reads the [logging] table of a config file. Keys other
// than level and format are module levels; a nested [logging.modules] table
// is accepted as well.
func ReadLoggingConfig(configPath string) (logging.Config, error) {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	var rawConfig struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config %s: %w", configPath, err)
	}

	for key, value := range rawConfig.Logging {
		switch v := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range v {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}

	return cfg, nil
}

// LoadLoggingConfig loads logging configuration from a TOML config file.
// Returns default config if file doesn't exist or can't be parsed.
func LoadLoggingConfig(configPath string) logging.Config {
	if configPath == "" {
		return logging.Config{Level: "info", Format: "text", Modules: make(map[string]string)}
	}
	cfg, err := ReadLoggingConfig(configPath)
	if err != nil {
		return logging.Config{Level: "info", Format: "text", Modules: make(map[string]string)}
	}
	return cfg
}
