package auth

import (
	"encoding/json"
	"fmt"
)

func decodeCookies(raw string, out *[]string) error {
	if raw == "" {
		return fmt.Errorf("session has no cookies")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode cookies: %w", err)
	}
	if len(*out) == 0 {
		return fmt.Errorf("session cookie list is empty")
	}
	return nil
}
