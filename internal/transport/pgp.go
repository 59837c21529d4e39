package transport

import (
	"bytes"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// encryptEntity wraps body into a PGP/MIME (RFC 3156) multipart/encrypted
// entity readable by the holders of any of the armored public keys.
func encryptEntity(body *entity, armoredKeys []string) (*entity, error) {
	var recipients openpgp.EntityList
	for i, k := range armoredKeys {
		keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(k))
		if err != nil {
			return nil, fmt.Errorf("read encryption key %d: %w", i+1, err)
		}
		recipients = append(recipients, keyring...)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no usable encryption keys")
	}

	var plain bytes.Buffer
	body.writeTo(&plain)

	var armored bytes.Buffer
	aw, err := armor.Encode(&armored, "PGP MESSAGE", nil)
	if err != nil {
		return nil, fmt.Errorf("armor encoder: %w", err)
	}
	pw, err := openpgp.Encrypt(aw, recipients, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	if _, err := pw.Write(plain.Bytes()); err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("armor message: %w", err)
	}
	armored.WriteString("\r\n")

	control := textproto.MIMEHeader{}
	control.Set("Content-Type", "application/pgp-encrypted")
	control.Set("Content-Description", "PGP/MIME version identification")

	payload := textproto.MIMEHeader{}
	payload.Set("Content-Type", `application/octet-stream; name="encrypted.asc"`)
	payload.Set("Content-Description", "OpenPGP encrypted message")
	payload.Set("Content-Disposition", `inline; filename="encrypted.asc"`)

	return multipartEntity("multipart/encrypted",
		map[string]string{"protocol": "application/pgp-encrypted"},
		[]*entity{
			{header: control, body: []byte("Version: 1\r\n")},
			{header: payload, body: armored.Bytes()},
		})
}
