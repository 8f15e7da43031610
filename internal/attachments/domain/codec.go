package attachmentsdomain

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Adoubf/cloud-mail/internal/attachments"
)

// DecodeTransportPayload decodes standard base64. Characters outside the alphabet,
// padding anywhere but the tail, and non-empty input decoding to nothing all fail
// with attachments.ErrDecode.
func DecodeTransportPayload(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty payload", attachments.ErrDecode)
	}

	body := strings.TrimRight(encoded, "=")
	if pad := len(encoded) - len(body); pad > 2 {
		return nil, fmt.Errorf("%w: too much padding", attachments.ErrDecode)
	}

	for i := 0; i < len(body); i++ {
		if !isBase64Char(body[i]) {
			return nil, fmt.Errorf("%w: invalid character %q at offset %d", attachments.ErrDecode, body[i], i)
		}
	}

	out, err := base64.RawStdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attachments.ErrDecode, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: payload decodes to zero bytes", attachments.ErrDecode)
	}

	return out, nil
}

func isBase64Char(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+', c == '/':
		return true
	}
	return false
}

// ParseDataURI accepts data:image/<subtype>[;param]*;base64,<payload>.
func ParseDataURI(src string) (string, []byte, error) {
	const scheme = "data:"

	if len(src) < len(scheme) || !strings.EqualFold(src[:len(scheme)], scheme) {
		return "", nil, fmt.Errorf("%w: not a data uri", attachments.ErrDecode)
	}

	header, payload, ok := strings.Cut(src[len(scheme):], ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: data uri without payload", attachments.ErrDecode)
	}

	params := strings.Split(header, ";")
	if len(params) < 2 || !strings.EqualFold(strings.TrimSpace(params[len(params)-1]), "base64") {
		return "", nil, fmt.Errorf("%w: data uri is not base64", attachments.ErrDecode)
	}

	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	subtype, isImage := strings.CutPrefix(mimeType, "image/")
	if !isImage || subtype == "" {
		return "", nil, fmt.Errorf("%w: data uri is not an image", attachments.ErrDecode)
	}

	data, err := DecodeTransportPayload(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, err
	}

	return mimeType, data, nil
}
