package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/tide-data-service/internal/domain"
)

// CurrentVersion is the document schema version written by this package.
const CurrentVersion = 1

// Document is the persisted form of one series: harbor id to entry. Harbor
// entries stay raw so one corrupt harbor cannot make the document unreadable.
type Document struct {
	Version int                        `json:"version"`
	Key     string                     `json:"key"`
	Data    map[string]json.RawMessage `json:"data"`
}

type migration func(raw []byte, key string) (Document, error)

// migrations upgrade a document from the version used as index.
var migrations = map[int]migration{
	0: migrateLegacy,
}

// migrateLegacy reads the unversioned layout, a bare harbor map.
func migrateLegacy(raw []byte, key string) (Document, error) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return Document{}, fmt.Errorf("decode legacy %s: %w", key, err)
	}
	return Document{Version: 1, Key: key, Data: data}, nil
}

// decodeDocument parses raw bytes, applying migrations until CurrentVersion.
// It reports whether a migration ran so the caller can persist the upgrade.
func decodeDocument(raw []byte, key string) (Document, bool, error) {
	var head struct {
		Version *int            `json:"version"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Document{}, false, fmt.Errorf("decode %s: %w", key, err)
	}

	version := 0
	if head.Version != nil && len(bytes.TrimSpace(head.Data)) > 0 {
		version = *head.Version
	}
	if version > CurrentVersion {
		return Document{}, false, fmt.Errorf("decode %s: unsupported version %d", key, version)
	}

	if version == CurrentVersion {
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Document{}, false, fmt.Errorf("decode %s: %w", key, err)
		}
		if doc.Data == nil {
			doc.Data = make(map[string]json.RawMessage)
		}
		doc.Key = key
		return doc, false, nil
	}

	doc := Document{}
	for v := version; v < CurrentVersion; {
		m, ok := migrations[v]
		if !ok {
			return Document{}, false, fmt.Errorf("decode %s: no migration from version %d", key, v)
		}
		var err error
		if doc, err = m(raw, key); err != nil {
			return Document{}, false, err
		}
		v = doc.Version
		if raw, err = json.Marshal(doc); err != nil {
			return Document{}, false, fmt.Errorf("encode %s: %w", key, err)
		}
	}
	if doc.Data == nil {
		doc.Data = make(map[string]json.RawMessage)
	}
	return doc, true, nil
}

// decodeHarbor parses one harbor's raw entry. Anything but a JSON object is
// reported as malformed.
func decodeHarbor(raw json.RawMessage) (domain.Entry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: harbor entry is not an object", domain.ErrMalformedEntry)
	}
	var e domain.Entry
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEntry, err)
	}
	return e, nil
}

func encodeDocument(doc Document) ([]byte, error) {
	doc.Version = CurrentVersion
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", doc.Key, err)
	}
	return data, nil
}
