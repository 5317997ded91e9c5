package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// WorkspaceNamespace is the namespace for name-derived workspace ids.
var WorkspaceNamespace = uuid.MustParse("6f1d0c3e-3c1b-4d8e-9a57-8b0f2f9c7a10")

// WorkspaceID is a typed ID for workspaces
type WorkspaceID struct {
	uuid uuid.UUID
}

func NewWorkspaceID() WorkspaceID {
	return WorkspaceID{uuid: uuid.New()}
}

// NewNamedWorkspaceID derives the id from name, so every replica configured
// with the same default workspace name agrees on its id.
func NewNamedWorkspaceID(name string) WorkspaceID {
	return WorkspaceID{uuid: uuid.NewSHA1(WorkspaceNamespace, []byte(name))}
}

func NewWorkspaceIDFromUUID(id uuid.UUID) WorkspaceID {
	return WorkspaceID{uuid: id}
}

func ParseWorkspaceID(s string) (WorkspaceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return WorkspaceID{}, fmt.Errorf("invalid workspace ID: %w", err)
	}
	return WorkspaceID{uuid: id}, nil
}

func (w WorkspaceID) UUID() uuid.UUID { return w.uuid }
func (w WorkspaceID) String() string  { return w.uuid.String() }
func (w WorkspaceID) IsZero() bool    { return w.uuid == uuid.Nil }

func (w WorkspaceID) MarshalText() ([]byte, error) {
	return []byte(w.uuid.String()), nil
}

func (w *WorkspaceID) UnmarshalText(data []byte) error {
	id, err := uuid.ParseBytes(data)
	if err != nil {
		return err
	}
	w.uuid = id
	return nil
}

func (w WorkspaceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.uuid.String())
}

func (w *WorkspaceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	w.uuid = id
	return nil
}

func (w WorkspaceID) Value() (driver.Value, error) {
	if w.IsZero() {
		return nil, nil
	}
	return w.uuid.String(), nil
}

func (w *WorkspaceID) Scan(value any) error {
	if value == nil {
		w.uuid = uuid.Nil
		return nil
	}

	switch v := value.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		w.uuid = id
	case []byte:
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		w.uuid = id
	default:
		return fmt.Errorf("cannot scan type %T into WorkspaceID", value)
	}
	return nil
}

func (WorkspaceID) GormDataType() string { return "uuid" }

// MarshalCBOR encodes the id as a tag 37 binary UUID.
func (w WorkspaceID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  TagSpecBinaryUUID,
		Content: w.uuid[:],
	})
}

func (w *WorkspaceID) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != TagSpecBinaryUUID {
		return fmt.Errorf("unexpected tag number for workspace id: got %d, want %d", tag.Number, TagSpecBinaryUUID)
	}
	bytes, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("workspace id tag content must be byte string, got %T", tag.Content)
	}
	id, err := uuid.FromBytes(bytes)
	if err != nil {
		return fmt.Errorf("failed to parse workspace id bytes: %w", err)
	}
	w.uuid = id
	return nil
}
