package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope() *Envelope {
	return &Envelope{
		Schema:        Schema,
		RoomID:        "room-1",
		DeviceID:      "door-12",
		CommandID:     "cmd-abc",
		CorrelationID: "corr-xyz",
		Sequence:      7,
		IssuedAtMs:    1700000000000,
		Action:        ActionOpen,
		Parameters:    json.RawMessage(`{"b":1,"a":2}`),
		SafetyClass:   SafetyNonCritical,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("a-device-key")
	e := testEnvelope()

	signed, err := Sign(e, key, "k1")
	require.NoError(t, err)
	assert.True(t, signed.Signed())
	assert.True(t, Verify(signed, key))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	e := testEnvelope()
	_, err := Sign(e, []byte("key-a"), "k1")
	require.NoError(t, err)

	assert.False(t, Verify(e, []byte("key-b")))
}

func TestVerifyRejectsMissingAuth(t *testing.T) {
	e := testEnvelope()
	assert.False(t, Verify(e, []byte("any-key")))
}

func TestVerifyRejectsUnknownAlgorithm(t *testing.T) {
	e := testEnvelope()
	key := []byte("key-a")
	_, err := Sign(e, key, "k1")
	require.NoError(t, err)

	e.Auth.Algorithm = "HMAC-MD5"
	assert.False(t, Verify(e, key))
}

func TestVerifyRejectsMalformedHex(t *testing.T) {
	e := testEnvelope()
	key := []byte("key-a")
	_, err := Sign(e, key, "k1")
	require.NoError(t, err)

	e.Auth.MAC = "not-hex!!"
	assert.False(t, Verify(e, key))
}

func TestSignRejectsNonJSONParameters(t *testing.T) {
	e := testEnvelope()
	e.Parameters = json.RawMessage(`{not valid json`)

	_, err := Sign(e, []byte("key-a"), "k1")
	require.Error(t, err)
	var encErr *ErrEncode
	assert.ErrorAs(t, err, &encErr)
}

func TestCanonicalizationIsStableUnderKeyReordering(t *testing.T) {
	e1 := testEnvelope()
	e1.Parameters = json.RawMessage(`{"a":2,"b":1}`)

	e2 := testEnvelope()
	e2.Parameters = json.RawMessage(`{"b":1,"a":2}`)

	b1, err := signingBytes(e1)
	require.NoError(t, err)
	b2, err := signingBytes(e2)
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
}

func TestCanonicalizationSortsNestedObjects(t *testing.T) {
	raw := json.RawMessage(`{"outer":{"z":1,"a":{"y":2,"x":3}},"b":true}`)
	out1, err := canonicalizeJSON(raw)
	require.NoError(t, err)

	reordered := json.RawMessage(`{"b":true,"outer":{"a":{"x":3,"y":2},"z":1}}`)
	out2, err := canonicalizeJSON(reordered)
	require.NoError(t, err)

	assert.Equal(t, string(out1), string(out2))
}

func TestCanonicalizationPreservesArrayOrder(t *testing.T) {
	raw := json.RawMessage(`{"items":[3,1,2]}`)
	out, err := canonicalizeJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[3,1,2]}`, string(out))
}

func TestSignaturePortableAcrossIndependentSigners(t *testing.T) {
	key := []byte("shared-key")
	e := testEnvelope()

	msg1, err := signingBytes(e)
	require.NoError(t, err)

	clone := *e
	msg2, err := signingBytes(&clone)
	require.NoError(t, err)

	assert.Equal(t, msg1, msg2)

	signed, err := Sign(e, key, "k1")
	require.NoError(t, err)
	assert.True(t, Verify(signed, key))
}

func TestEnvelopeRoundTripSerialization(t *testing.T) {
	e := testEnvelope()
	_, err := Sign(e, []byte("key-a"), "k1")
	require.NoError(t, err)

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, e.CommandID, out.CommandID)
	assert.Equal(t, e.Auth.MAC, out.Auth.MAC)
	assert.True(t, Verify(&out, []byte("key-a")))
}
