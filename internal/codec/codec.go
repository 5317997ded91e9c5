// Package codec provides the canonical binary encoding used wherever bytes must
// be identical across replicas: revision id hashing and persisted tree edges.
package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is a Marshaler and Unmarshaler pair.
type Codec interface {
	Marshaler
	Unmarshaler
}

var canonical = newCanonical()

// Canonical returns the CBOR codec using Core Deterministic Encoding
// (RFC 8949 section 4.2.1): sorted map keys, shortest integer forms and no
// indefinite lengths.
func Canonical() Codec {
	return canonical
}

type cborCodec struct {
	em cbor.EncMode
	dm cbor.DecMode
}

func newCanonical() *cborCodec {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return &cborCodec{em: em, dm: dm}
}

func (c *cborCodec) Marshal(v any) ([]byte, error) {
	return c.em.Marshal(v)
}

func (c *cborCodec) NewEncoder(w io.Writer) Encoder {
	return c.em.NewEncoder(w)
}

func (c *cborCodec) Unmarshal(data []byte, dst any) error {
	return c.dm.Unmarshal(data, dst)
}

func (c *cborCodec) NewDecoder(r io.Reader) Decoder {
	return c.dm.NewDecoder(r)
}
