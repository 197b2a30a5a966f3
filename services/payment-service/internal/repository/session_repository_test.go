package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grigta/hotspot/pkg/crypto"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

func testEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptor("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return enc
}

func TestSealOpen_RoundTrip(t *testing.T) {
	repo := &SessionRepository{encryptor: testEncryptor(t)}
	session := &models.PaymentSession{SessionID: "s-1", ClientIdentity: "254712345678", CreatedAt: time.Now()}

	doc, err := repo.seal(session)
	require.NoError(t, err)
	assert.True(t, doc.Encrypted)
	assert.NotEqual(t, "254712345678", doc.ClientIdentity)
	assert.Equal(t, crypto.SHA256Hash("254712345678"), doc.ClientIdentityHash)
	assert.Equal(t, "254712345678", session.ClientIdentity, "caller's session is untouched")

	require.NoError(t, repo.open(doc))
	assert.Equal(t, "254712345678", doc.ClientIdentity)
	assert.False(t, doc.Encrypted)
}

func TestSeal_WithoutEncryptor(t *testing.T) {
	repo := &SessionRepository{}
	doc, err := repo.seal(&models.PaymentSession{ClientIdentity: "254712345678"})
	require.NoError(t, err)
	assert.False(t, doc.Encrypted)
	assert.Equal(t, "254712345678", doc.ClientIdentity)
	assert.NotEmpty(t, doc.ClientIdentityHash)
}

func TestOpen_EncryptedWithoutKey(t *testing.T) {
	repo := &SessionRepository{}
	err := repo.open(&models.PaymentSession{SessionID: "s-1", ClientIdentity: "xx", Encrypted: true})
	assert.Error(t, err)
}
