package store

import (
	"fmt"
	"strings"

	"github.com/roach88/docsession/internal/ir"
)

// marshalBody converts a document body to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalBody(body ir.IRObject) (string, error) {
	if body == nil {
		body = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), nil
}

// unmarshalBody parses stored JSON TEXT into an IRObject.
// Large integers keep full int64 precision; floats are rejected.
func unmarshalBody(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	body, err := ir.UnmarshalObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	return body, nil
}

// CollectionFromID derives a collection name from a document id: the part
// before the first '/'. It returns "" when the id has no '/'.
func CollectionFromID(id string) string {
	i := strings.IndexByte(id, '/')
	if i <= 0 {
		return ""
	}
	return id[:i]
}

// revisionFor formats the revision string of a write.
func revisionFor(nodeTag string, etag int64) string {
	return fmt.Sprintf("%s:%d", nodeTag, etag)
}
