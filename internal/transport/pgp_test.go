package transport

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func armoredPublicKey(t *testing.T, e *openpgp.Entity) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, e.Serialize(w))
	require.NoError(t, w.Close())
	return buf.String()
}

func TestBuild_EncryptsForRecipientKeys(t *testing.T) {
	recipient, err := openpgp.NewEntity("John", "", "john@example.net", nil)
	require.NoError(t, err)

	m := baseMail()
	m.EncryptionKeys = []string{armoredPublicKey(t, recipient)}

	msg, err := testBuilder(nil).Build(context.Background(), m)
	require.NoError(t, err)
	assert.NotContains(t, string(msg.Raw), "<p>Hello</p>")

	parsed := parse(t, msg.Raw)
	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/encrypted", mediaType)
	assert.Equal(t, "application/pgp-encrypted", params["protocol"])

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	control, err := mr.NextPart()
	require.NoError(t, err)
	version, _ := io.ReadAll(control)
	assert.Contains(t, string(version), "Version: 1")

	payload, err := mr.NextPart()
	require.NoError(t, err)
	block, err := armor.Decode(payload)
	require.NoError(t, err)

	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList{recipient}, nil, nil)
	require.NoError(t, err)
	plain, err := io.ReadAll(md.UnverifiedBody)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "multipart/alternative")
	assert.Contains(t, string(plain), "<p>Hello</p>")
}

func TestBuild_InvalidEncryptionKey(t *testing.T) {
	m := baseMail()
	m.EncryptionKeys = []string{"not a key"}
	_, err := testBuilder(nil).Build(context.Background(), m)
	assert.Error(t, err)
}
