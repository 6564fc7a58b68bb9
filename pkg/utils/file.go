package utils

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadJSONFile decodes a JSON file into T.
func LoadJSONFile[T any](path string) (T, error) {
	var v T
	bytes, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("fail to read file '%s': %w", path, err)
	}
	if err := json.Unmarshal(bytes, &v); err != nil {
		return v, fmt.Errorf("fail to unmarshal file '%s': %w", path, err)
	}
	return v, nil
}
