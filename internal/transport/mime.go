package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vincent-petithory/dataurl"

	"github.com/ignite/campaign-sender/internal/domain"
)

// maxAttachmentBytes caps a single stored attachment.
const maxAttachmentBytes = 25 << 20

// entity is one MIME entity: its content headers plus encoded body.
type entity struct {
	header textproto.MIMEHeader
	body   []byte
}

func (e *entity) writeTo(buf *bytes.Buffer) {
	writeMIMEHeader(buf, e.header)
	buf.WriteString("\r\n")
	buf.Write(e.body)
}

// MIMEBuilder renders domain mails as RFC 5322 messages.
type MIMEBuilder struct {
	files FileOpener
	now   func() time.Time
	newID func() string
}

// NewMIMEBuilder creates a builder. files may be nil when no stored
// attachments are sent.
func NewMIMEBuilder(files FileOpener) *MIMEBuilder {
	return &MIMEBuilder{files: files, now: time.Now, newID: uuid.NewString}
}

// Build renders mail. The envelope defaults to the From and To addresses
// when the mail carries no VERP envelope.
func (b *MIMEBuilder) Build(ctx context.Context, m *domain.Mail) (*Message, error) {
	messageID := "<" + b.newID() + "@" + hostOf(m.From.Address) + ">"

	body, err := b.body(ctx, m)
	if err != nil {
		return nil, err
	}
	if len(m.EncryptionKeys) > 0 {
		body, err = encryptEntity(body, m.EncryptionKeys)
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	h := func(name, value string) {
		if value != "" {
			buf.WriteString(name + ": " + value + "\r\n")
		}
	}
	h("From", formatAddress(m.From))
	h("To", formatAddress(m.To))
	h("Reply-To", m.ReplyTo)
	h("Sender", m.Sender)
	h("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	h("Date", b.now().Format(time.RFC1123Z))
	h("Message-ID", messageID)
	h("MIME-Version", "1.0")
	h("X-Mailer", m.XMailer)
	if m.ListUnsubscribe != "" {
		h("List-Unsubscribe", "<"+m.ListUnsubscribe+">")
	}
	for _, hdr := range m.Headers {
		if hdr.Prepared {
			h(hdr.Name, hdr.Value)
		} else {
			h(hdr.Name, mime.QEncoding.Encode("utf-8", hdr.Value))
		}
	}
	body.writeTo(&buf)

	msg := &Message{
		EnvelopeFrom: m.From.Address,
		EnvelopeTo:   m.To.Address,
		MessageID:    messageID,
		Raw:          buf.Bytes(),
		Tags:         m.Tags,
	}
	if m.Envelope != nil {
		msg.EnvelopeFrom = m.Envelope.From
		msg.EnvelopeTo = m.Envelope.To
	}
	return msg, nil
}

// body nests the parts as mixed(related(alternative(text, html), inline...), files...),
// dropping levels that would hold a single part.
func (b *MIMEBuilder) body(ctx context.Context, m *domain.Mail) (*entity, error) {
	var alt []*entity
	if m.Text != "" {
		alt = append(alt, textEntity("text/plain", m.Text))
	}
	if m.HTML != "" {
		alt = append(alt, textEntity("text/html", m.HTML))
	}
	if len(alt) == 0 {
		alt = append(alt, textEntity("text/plain", ""))
	}
	content, err := wrapMultipart("alternative", alt)
	if err != nil {
		return nil, err
	}

	var inline, files []*entity
	for _, a := range m.Attachments {
		if a.IsInline() {
			e, err := inlineEntity(a)
			if err != nil {
				return nil, err
			}
			inline = append(inline, e)
			continue
		}
		e, err := b.fileEntity(ctx, a)
		if err != nil {
			return nil, err
		}
		files = append(files, e)
	}

	if len(inline) > 0 {
		if content, err = wrapMultipart("related", append([]*entity{content}, inline...)); err != nil {
			return nil, err
		}
	}
	if len(files) > 0 {
		if content, err = wrapMultipart("mixed", append([]*entity{content}, files...)); err != nil {
			return nil, err
		}
	}
	return content, nil
}

func textEntity(contentType, text string) *entity {
	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	w.Write([]byte(text))
	w.Close()

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return &entity{header: h, body: buf.Bytes()}
}

func inlineEntity(a domain.Attachment) (*entity, error) {
	du, err := dataurl.DecodeString(a.Path)
	if err != nil {
		return nil, fmt.Errorf("decode inline image %s: %w", a.CID, err)
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", du.MediaType.ContentType())
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", "inline")
	h.Set("Content-ID", "<"+a.CID+">")
	return &entity{header: h, body: base64Lines(du.Data)}, nil
}

func (b *MIMEBuilder) fileEntity(ctx context.Context, a domain.Attachment) (*entity, error) {
	if b.files == nil {
		return nil, fmt.Errorf("attachment %s: no file store configured", a.Filename)
	}
	rc, err := b.files.Open(ctx, a.Path)
	if err != nil {
		return nil, fmt.Errorf("open attachment %s: %w", a.Filename, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", a.Filename, err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment %s exceeds %d bytes", a.Filename, maxAttachmentBytes)
	}

	name := a.Filename
	if name == "" {
		name = filepath.Base(a.Path)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	return &entity{header: h, body: base64Lines(data)}, nil
}

// wrapMultipart returns parts as one multipart entity. A single part is
// returned as-is.
func wrapMultipart(subtype string, parts []*entity) (*entity, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}
	return multipartEntity("multipart/"+subtype, nil, parts)
}

func multipartEntity(mediaType string, params map[string]string, parts []*entity) (*entity, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		pw, err := w.CreatePart(p.header)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", mediaType, err)
		}
		if _, err := pw.Write(p.body); err != nil {
			return nil, fmt.Errorf("write %s part: %w", mediaType, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", mediaType, err)
	}

	all := map[string]string{"boundary": w.Boundary()}
	for k, v := range params {
		all[k] = v
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", mime.FormatMediaType(mediaType, all))
	return &entity{header: h, body: buf.Bytes()}, nil
}

func writeMIMEHeader(buf *bytes.Buffer, h textproto.MIMEHeader) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			buf.WriteString(k + ": " + v + "\r\n")
		}
	}
}

func base64Lines(data []byte) []byte {
	enc := base64.StdEncoding.EncodeToString(data)
	var buf bytes.Buffer
	for len(enc) > 76 {
		buf.WriteString(enc[:76] + "\r\n")
		enc = enc[76:]
	}
	buf.WriteString(enc + "\r\n")
	return buf.Bytes()
}

func formatAddress(a domain.Address) string {
	if a.Address == "" {
		return ""
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

func hostOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
