package attach

import (
	"mime"
	"strings"
	"unicode"
)

// Class decides how an attachment is rendered and whether it gets a
// download affordance.
type Class string

const (
	ClassImage Class = "image"
	ClassAudio Class = "audio"
	ClassVideo Class = "video"
	ClassPDF   Class = "pdf"
	ClassOther Class = "other"
)

func Classify(contentType string) Class {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return ClassImage
	case strings.HasPrefix(mediaType, "audio/"):
		return ClassAudio
	case strings.HasPrefix(mediaType, "video/"):
		return ClassVideo
	case mediaType == "application/pdf":
		return ClassPDF
	default:
		return ClassOther
	}
}

// Inline reports whether the class is previewed in the timeline rather than
// only offered for download.
func (c Class) Inline() bool {
	return c == ClassImage || c == ClassAudio || c == ClassVideo
}

// Label is the short tag shown next to an attachment.
func (c Class) Label() string {
	return "[" + string(c) + "]"
}

// SanitizeFilename strips path components and characters that are unsafe
// in filenames on common filesystems.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return "attachment"
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
