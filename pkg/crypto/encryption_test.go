package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EncryptorTestSuite struct {
	suite.Suite
	encryptor *Encryptor
}

func (suite *EncryptorTestSuite) SetupTest() {
	var err error
	suite.encryptor, err = NewEncryptor("12345678901234567890123456789012")
	suite.Require().NoError(err)
}

func (suite *EncryptorTestSuite) TestNewEncryptor_InvalidKeys() {
	for _, key := range []string{"", "shortkey", "1234567890123456789012345678901234567890"} {
		enc, err := NewEncryptor(key)
		suite.Error(err)
		suite.Nil(enc)
		suite.Contains(err.Error(), "32 bytes")
	}
}

func (suite *EncryptorTestSuite) TestEncryptDecrypt_RoundTrip() {
	for _, plaintext := range []string{"", "254712345678", "päyer ✓"} {
		ciphertext, err := suite.encryptor.Encrypt(plaintext)
		suite.NoError(err)
		suite.NotEqual(plaintext, ciphertext)

		decrypted, err := suite.encryptor.Decrypt(ciphertext)
		suite.NoError(err)
		suite.Equal(plaintext, decrypted)
	}
}

func (suite *EncryptorTestSuite) TestEncrypt_UniqueNonce() {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ct, err := suite.encryptor.Encrypt("254712345678")
		suite.NoError(err)
		seen[ct] = true
	}
	suite.Len(seen, 50)
}

func (suite *EncryptorTestSuite) TestDecrypt_InvalidBase64() {
	_, err := suite.encryptor.Decrypt("not-valid-base64!!!")
	suite.Error(err)
	suite.Contains(err.Error(), "decode")
}

func (suite *EncryptorTestSuite) TestDecrypt_TooShort() {
	_, err := suite.encryptor.Decrypt("YWJjZA==")
	suite.ErrorIs(err, ErrCiphertextTooShort)
}

func (suite *EncryptorTestSuite) TestDecrypt_WrongKey() {
	ciphertext, err := suite.encryptor.Encrypt("254712345678")
	suite.Require().NoError(err)

	other, err := NewEncryptor("abcdefghijklmnopqrstuvwxyz123456")
	suite.Require().NoError(err)

	_, err = other.Decrypt(ciphertext)
	suite.Error(err)
}

func TestEncryptorTestSuite(t *testing.T) {
	suite.Run(t, new(EncryptorTestSuite))
}

func TestSHA256Hash(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"hello", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{"test", "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SHA256Hash(tt.input))
		})
	}
}

func TestGenerateRandomKey(t *testing.T) {
	key, err := GenerateRandomKey(32)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = NewEncryptor(key)
	assert.NoError(t, err)
}
