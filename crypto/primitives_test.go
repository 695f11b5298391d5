package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	a, err := NewAgentSecret()
	require.NoError(t, err)
	agent, err := a.Agent()
	require.NoError(t, err)

	other, err := NewAgentSecret()
	require.NoError(t, err)
	otherAgent, err := other.Agent()
	require.NoError(t, err)

	payload := map[string]string{"a": "hello", "b": "world"}

	sig, err := Sign(a.SignerSecret, payload)
	require.NoError(t, err)

	assert.True(t, Verify(sig, payload, agent.Signer.ID))
	assert.False(t, Verify(sig, payload, otherAgent.Signer.ID))
}

func TestSealUnseal(t *testing.T) {
	sender, err := NewAgentSecret()
	require.NoError(t, err)

	recipient, err := NewAgentSecret()
	require.NoError(t, err)
	recipientAgent, err := recipient.Agent()
	require.NoError(t, err)

	other, err := NewAgentSecret()
	require.NoError(t, err)

	nonceMaterial := map[string]string{"purpose": "invite"}
	sealed, err := Seal(SealInput{
		Message:       []byte("top secret"),
		From:          sender,
		To:            recipientAgent.Sealer.ID,
		NonceMaterial: nonceMaterial,
	})
	require.NoError(t, err)

	sendAgent, err := sender.Agent()
	require.NoError(t, err)

	opened, err := Unseal(UnsealInput{
		Sealed:        sealed,
		From:          sendAgent.Sealer.ID,
		To:            recipient,
		NonceMaterial: nonceMaterial,
	})
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(opened))

	_, err = Unseal(UnsealInput{
		Sealed:        sealed,
		From:          sendAgent.Sealer.ID,
		To:            other,
		NonceMaterial: nonceMaterial,
	})
	assert.ErrorIs(t, err, ErrWrongTag)
}

func TestEncryptDecryptForTransaction(t *testing.T) {
	key, err := NewKeySecret()
	require.NoError(t, err)
	wrongKey, err := NewKeySecret()
	require.NoError(t, err)

	changes := []map[string]string{{"op": "set", "key": "foo", "value": "bar"}}
	nonceMaterial := "session_z123_tx_0"

	ciphertext, err := EncryptForTransaction(changes, key, nonceMaterial)
	require.NoError(t, err)

	var decoded []map[string]string
	ok := DecryptForTransaction(ciphertext, key, nonceMaterial, &decoded)
	require.True(t, ok)
	assert.Equal(t, changes, decoded)

	var shouldFail []map[string]string
	ok = DecryptForTransaction(ciphertext, wrongKey, nonceMaterial, &shouldFail)
	assert.False(t, ok)
}

func TestWrapUnwrapKeySecret(t *testing.T) {
	oldKey, err := NewKeySecret()
	require.NoError(t, err)
	newKey, err := NewKeySecret()
	require.NoError(t, err)

	oldID, err := oldKey.ID()
	require.NoError(t, err)
	newID, err := newKey.ID()
	require.NoError(t, err)

	wrapped, err := WrapKeySecret(oldKey, newKey)
	require.NoError(t, err)

	recovered, ok := UnwrapKeySecret(wrapped, oldID, newID, newKey)
	require.True(t, ok)
	assert.Equal(t, oldKey, recovered)

	_, ok = UnwrapKeySecret(wrapped, oldID, newID, oldKey)
	assert.False(t, ok)
}

func TestSecureHashOrderIndependent(t *testing.T) {
	a := map[string]int{"a": 1, "b": 2}
	b := map[string]int{"b": 2, "a": 1}

	ha, err := SecureHash(a)
	require.NoError(t, err)
	hb, err := SecureHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}
