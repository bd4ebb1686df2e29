package domain

import (
	"encoding/hex"
	"fmt"
)

// EncodeCursor renders a scan position as the hex paging token handed to clients.
// A nil or empty cursor encodes to "", which means no further pages.
func EncodeCursor(c Cursor) string {
	if len(c) == 0 {
		return ""
	}
	return hex.EncodeToString(c)
}

// DecodeCursor parses a paging token. An empty token starts from the beginning.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(raw) == 0 {
		return nil, ErrInvalidCursor
	}
	return Cursor(raw), nil
}
