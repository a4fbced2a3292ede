package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// ToJsonStr renders obj as indented JSON for files meant to be read by people.
// Values that cannot be encoded render as an empty object.
func ToJsonStr(obj any) string {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		slog.Error("json marshal failed", "type", fmt.Sprintf("%T", obj), "error", err)
		return "{}"
	}
	return string(data)
}
