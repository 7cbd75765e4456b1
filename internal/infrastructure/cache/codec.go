package cache

import (
	"encoding/json"

	"github.com/klauspost/compress/s2"

	"deckforge-backend/internal/errors"
)

// encodeValue produces the stored payload for a value. Serialized values
// are JSON-encoded; unserialized values must already be []byte.
func encodeValue(value any, serialize bool) ([]byte, error) {
	if !serialize {
		raw, ok := value.([]byte)
		if !ok {
			return nil, errors.CacheFailure(errors.CodeCacheValueNotSerializable,
				"value must be []byte when serialization is disabled").Build()
		}
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeCache, errors.CodeCacheSerializationFailed,
			"failed to serialize cache value").WithCause(err).Build()
	}
	return data, nil
}

// decodeValue reverses encodeValue. Serialized payloads decode to the
// generic JSON shapes (map[string]any, []any, float64, string, bool, nil);
// unserialized payloads come back as []byte.
func decodeValue(payload []byte, serialized bool) (any, error) {
	if !serialized {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, errors.NewError(errors.ErrorTypeCache, errors.CodeCacheSerializationFailed,
			"failed to deserialize cache value").WithCause(err).Build()
	}
	return value, nil
}

// compressPayload compresses data with the s2 codec. Payloads that do not
// shrink are kept uncompressed; the boolean reports what was stored.
func compressPayload(data []byte) ([]byte, bool) {
	compressed := s2.Encode(nil, data)
	if len(compressed) >= len(data) {
		return data, false
	}
	return compressed, true
}

// decompressPayload reverses compressPayload for compressed entries.
func decompressPayload(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeCache, errors.CodeCacheCompressionFailed,
			"failed to decompress cache value").WithCause(err).Build()
	}
	return out, nil
}
