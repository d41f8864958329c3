package pg

import "encoding/json"

// Token lists live in a jsonb column; a nil slice round-trips as [].

func encodeTokens(tokens []string) []byte {
	if len(tokens) == 0 {
		return []byte("[]")
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return []byte("[]")
	}
	return b
}

func decodeTokens(raw []byte) []string {
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil
	}
	return tokens
}
