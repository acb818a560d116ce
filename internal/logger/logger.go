package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mixaill76/key_rotator/internal/security"
)

// secretAttrKeys are attribute names whose string values are always masked.
var secretAttrKeys = map[string]bool{
	"api_key": true,
	"secret":  true,
	"key":     true,
}

// New creates a new slog.Logger instance with the specified logging level
// level can be: "info", "debug", "warn", "error"
// Default is "info"
func New(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOptions(level)))
}

// NewJSON creates a new slog.Logger with JSON output
func NewJSON(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, handlerOptions(level)))
}

// NewWithWriter creates a text logger writing to w. Used by the CLI
// subcommands to keep stdout free for command output.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, handlerOptions(level)))
}

func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: maskSecretAttr,
	}
}

// maskSecretAttr masks values of attributes that carry upstream credentials.
func maskSecretAttr(_ []string, a slog.Attr) slog.Attr {
	if !secretAttrKeys[a.Key] || a.Value.Kind() != slog.KindString {
		return a
	}
	return slog.String(a.Key, security.MaskAPIKey(a.Value.String()))
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TruncateLongFields truncates long fields in JSON for logging purposes.
// Inline media and long prompt text are shortened so upstream bodies stay readable.
func TruncateLongFields(body string, maxFieldLength int) string {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return body
	}

	truncateValue(data, maxFieldLength)

	truncated, err := json.Marshal(data)
	if err != nil {
		return body
	}

	return string(truncated)
}

// truncateValue recursively truncates long string values in a map or slice
func truncateValue(v interface{}, maxLength int) {
	switch val := v.(type) {
	case map[string]interface{}:
		for key, value := range val {
			switch key {
			case "data", "thoughtSignature":
				// base64 payloads from inlineData / thinking parts
				if str, ok := value.(string); ok && len(str) > 50 {
					val[key] = fmt.Sprintf("%s... [truncated %d chars]", str[:50], len(str)-50)
				}
			default:
				if str, ok := value.(string); ok && len(str) > maxLength {
					val[key] = str[:maxLength] + "... [truncated]"
				} else {
					truncateValue(value, maxLength)
				}
			}
		}
	case []interface{}:
		for _, item := range val {
			truncateValue(item, maxLength)
		}
	}
}
