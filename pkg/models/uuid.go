package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
)

// TagSpecBinaryUUID is the CBOR tag for a binary UUID (RFC 8949 registry, tag 37).
const TagSpecBinaryUUID = 37

// RecordID identifies a record for its whole lifetime. It wraps a UUID v4.
//
// It implements cbor.Marshaler and cbor.Unmarshaler using tag 37, so record
// ids embedded in canonical encodings are binary and fixed-size.
type RecordID struct {
	uuid.UUID
}

// NewRecordID returns a fresh random record id.
func NewRecordID() (RecordID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return RecordID{}, fmt.Errorf("failed to generate record id: %w", err)
	}
	return RecordID{id}, nil
}

func ParseRecordID(s string) (RecordID, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid record ID: %w", err)
	}
	return RecordID{id}, nil
}

// MustParseRecordID is ParseRecordID that panics on error. Intended for tests.
func MustParseRecordID(s string) RecordID {
	id, err := ParseRecordID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (r RecordID) IsZero() bool { return r.UUID == uuid.Nil }

// MarshalCBOR implements cbor.Marshaler interface for RecordID
func (r RecordID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  TagSpecBinaryUUID,
		Content: r.Bytes(),
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler interface for RecordID
func (r *RecordID) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}

	if tag.Number != TagSpecBinaryUUID {
		return fmt.Errorf("unexpected tag number for record id: got %d, want %d", tag.Number, TagSpecBinaryUUID)
	}

	bytes, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("record id tag content must be byte string, got %T", tag.Content)
	}

	if len(bytes) != uuid.Size {
		return fmt.Errorf("record id must be exactly %d bytes, got %d", uuid.Size, len(bytes))
	}

	parsed, err := uuid.FromBytes(bytes)
	if err != nil {
		return fmt.Errorf("failed to parse record id bytes: %w", err)
	}

	r.UUID = parsed
	return nil
}

func (r RecordID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RecordID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRecordID(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r RecordID) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return r.String(), nil
}

func (r *RecordID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		r.UUID = uuid.Nil
	case string:
		return r.UUID.UnmarshalText([]byte(v))
	case []byte:
		return r.UUID.Scan(v)
	default:
		return fmt.Errorf("cannot scan type %T into RecordID", value)
	}
	return nil
}

func (RecordID) GormDataType() string { return "uuid" }
