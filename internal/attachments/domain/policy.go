package attachmentsdomain

import "strings"

const DefaultContentType = "application/octet-stream"

func ContentTypeOrDefault(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return DefaultContentType
	}
	return ct
}
