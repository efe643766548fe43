package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// cursor pins a timeline position to a (published, id) pair. The id
// disambiguates items sharing a timestamp; clients treat the encoding as
// opaque.
type cursor struct {
	T time.Time `json:"t"`
	I int64     `json:"i"`
}

func encodeCursor(published time.Time, id int64) string {
	data, err := json.Marshal(cursor{T: published.UTC(), I: id})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(value string) (cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return cursor{}, fmt.Errorf("decoding cursor: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return cursor{}, fmt.Errorf("decoding cursor: %w", err)
	}
	return c, nil
}
