package cache

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotCacheable reports a caller bug: the supplied value cannot be
// serialized for caching. Environmental failures (disk I/O, corruption)
// never produce it; those degrade to a miss or a false return instead.
var ErrNotCacheable = errors.New("value is not cacheable")

// encodeValue serializes a value for size accounting and disk storage.
// Serialization failures are caller errors, not storage errors.
func encodeValue(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCacheable, err)
	}
	return data, nil
}

// decodeValue deserializes a stored payload.
func decodeValue(data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
