package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/http"
	"net/mail"
	"net/textproto"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mezamarco14/resu-sistem/internal/model"
)

type mimePart struct {
	header textproto.MIMEHeader
	body   []byte
}

// BuildMIME encodes a message as RFC 5322 bytes: the HTML body, wrapped in
// multipart/related when there are inline images and in multipart/mixed when
// there are regular attachments.
func BuildMIME(msg *Message, now time.Time) ([]byte, error) {
	var inline, regular []model.Attachment
	for _, a := range msg.Attachments {
		if a.Inline() {
			inline = append(inline, a)
		} else {
			regular = append(regular, a)
		}
	}

	root, err := htmlPart(msg.HTML)
	if err != nil {
		return nil, err
	}
	if len(inline) > 0 {
		parts := []mimePart{root}
		for _, a := range inline {
			parts = append(parts, attachmentPart(a))
		}
		if root, err = multipartOf("related", parts); err != nil {
			return nil, err
		}
	}
	if len(regular) > 0 {
		parts := []mimePart{root}
		for _, a := range regular {
			parts = append(parts, attachmentPart(a))
		}
		if root, err = multipartOf("mixed", parts); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", (&mail.Address{Address: msg.From}).String())
	writeHeader(&buf, "To", (&mail.Address{Address: msg.To}).String())
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDHost(msg.From)))
	writeHeader(&buf, "MIME-Version", "1.0")

	keys := make([]string, 0, len(root.header))
	for k := range root.header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, root.header.Get(k))
	}
	buf.WriteString("\r\n")
	buf.Write(root.body)
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func messageIDHost(from string) string {
	if d := Domain(from); d != "" {
		return d
	}
	return "localhost"
}

func htmlPart(html string) (mimePart, error) {
	var b bytes.Buffer
	qp := quotedprintable.NewWriter(&b)
	if _, err := qp.Write([]byte(html)); err != nil {
		return mimePart{}, err
	}
	if err := qp.Close(); err != nil {
		return mimePart{}, err
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", "text/html; charset=UTF-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return mimePart{header: h, body: b.Bytes()}, nil
}

func attachmentPart(a model.Attachment) mimePart {
	contentType := a.ContentType
	if contentType == "" {
		contentType = DetectContentType(a.Filename, a.Content)
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	disposition := "attachment"
	if a.Inline() {
		disposition = "inline"
		h.Set("Content-ID", "<"+strings.Trim(a.ContentID, "<>")+">")
	}
	h.Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": a.Filename}))
	h.Set("Content-Transfer-Encoding", "base64")

	encoded := base64.StdEncoding.EncodeToString(a.Content)
	var b strings.Builder
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		b.WriteString(encoded[i:end])
		b.WriteString("\r\n")
	}
	return mimePart{header: h, body: []byte(b.String())}
}

func multipartOf(subtype string, parts []mimePart) (mimePart, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for _, p := range parts {
		pw, err := w.CreatePart(p.header)
		if err != nil {
			return mimePart{}, err
		}
		if _, err := pw.Write(p.body); err != nil {
			return mimePart{}, err
		}
	}
	if err := w.Close(); err != nil {
		return mimePart{}, err
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", fmt.Sprintf("multipart/%s; boundary=%s", subtype, w.Boundary()))
	return mimePart{header: h, body: b.Bytes()}, nil
}

// DetectContentType guesses a MIME type from the extension, then the content.
func DetectContentType(filename string, data []byte) string {
	if ext := filepath.Ext(filename); ext != "" {
		if mt := mime.TypeByExtension(strings.ToLower(ext)); mt != "" {
			return mt
		}
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
