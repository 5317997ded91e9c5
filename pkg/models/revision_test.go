package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRevisionIDIsDeterministic(t *testing.T) {
	a, err := ComputeRevisionID(1, "", false, []byte(`{"title":"a"}`))
	require.NoError(t, err)
	b, err := ComputeRevisionID(1, "", false, []byte(`{"title":"a"}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, uint32(1), a.Generation())
	assert.Len(t, a.String(), len("1-")+32)

	_, err = ParseRevisionID(a.String())
	require.NoError(t, err)
}

func TestComputeRevisionIDDependsOnEveryField(t *testing.T) {
	base, err := ComputeRevisionID(2, "1-00000000000000000000000000000000", false, []byte("x"))
	require.NoError(t, err)

	variants := []struct {
		name    string
		gen     uint32
		parent  RevisionID
		deleted bool
		payload []byte
	}{
		{"generation", 3, "1-00000000000000000000000000000000", false, []byte("x")},
		{"parent", 2, "1-11111111111111111111111111111111", false, []byte("x")},
		{"deleted", 2, "1-00000000000000000000000000000000", true, []byte("x")},
		{"payload", 2, "1-00000000000000000000000000000000", false, []byte("y")},
	}
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			id, err := ComputeRevisionID(v.gen, v.parent, v.deleted, v.payload)
			require.NoError(t, err)
			assert.NotEqual(t, base, id)
		})
	}
}

func TestComputeRevisionIDNilAndEmptyPayloadAgree(t *testing.T) {
	a, err := ComputeRevisionID(1, "", true, nil)
	require.NoError(t, err)
	b, err := ComputeRevisionID(1, "", true, []byte{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseRevisionIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "abc", "0-00000000000000000000000000000000", "1-zz", "x-00000000000000000000000000000000", "1-0000000000000000000000000000000g"} {
		_, err := ParseRevisionID(s)
		assert.Error(t, err, s)
	}
	assert.Equal(t, uint32(0), RevisionID("garbage").Generation())
}

func TestRevisionVerify(t *testing.T) {
	id, err := ComputeRevisionID(1, "", false, []byte("hello"))
	require.NoError(t, err)

	rev := Revision{ID: id, Generation: 1, Content: []byte("hello")}
	ok, err := rev.Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	rev.Content = []byte("tampered")
	ok, err = rev.Verify()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewPayloadRef(t *testing.T) {
	ref := NewPayloadRef([]byte("hello"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", ref.Digest)
	assert.Equal(t, 5, ref.Size)
	assert.False(t, ref.IsZero())
	assert.True(t, PayloadRef{}.IsZero())
}
