package cryptoutil

import (
	"bytes"
	"path/filepath"
	"strings"
)

// DetectedType is a coarse content classification derived from a file's leading bytes, independent of whatever
// extension or Content-Type header the client claimed.
type DetectedType string

const (
	TypeUnknown DetectedType = ""
	TypePNG     DetectedType = "png"
	TypeJPEG    DetectedType = "jpeg"
	TypeGIF     DetectedType = "gif"
	TypeWebP    DetectedType = "webp"
	TypePDF     DetectedType = "pdf"
	TypeZip     DetectedType = "zip" // also covers docx/xlsx/pptx, which are zip containers
)

var signatures = []struct {
	typ    DetectedType
	prefix []byte
}{
	{TypePNG, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{TypeJPEG, []byte{0xFF, 0xD8, 0xFF}},
	{TypeGIF, []byte("GIF87a")},
	{TypeGIF, []byte("GIF89a")},
	{TypePDF, []byte("%PDF-")},
	{TypeZip, []byte{0x50, 0x4B, 0x03, 0x04}},
}

// webpRIFFHeader and webpFormatTag bound the two fixed fields of a RIFF/WEBP container that sandwich the 4-byte
// chunk size: "RIFF" + 4 bytes size + "WEBP".
var webpRIFFHeader = []byte("RIFF")
var webpFormatTag = []byte("WEBP")

// DetectFileType inspects the leading bytes of a file and returns the type implied by its magic number, or
// TypeUnknown if none of the recognized signatures match. Callers use this to verify an upload's declared
// Content-Type against what the bytes actually are, rather than trusting client-supplied metadata.
func DetectFileType(head []byte) DetectedType {
	for _, sig := range signatures {
		if bytes.HasPrefix(head, sig.prefix) {
			return sig.typ
		}
	}
	if len(head) >= 12 && bytes.Equal(head[0:4], webpRIFFHeader) && bytes.Equal(head[8:12], webpFormatTag) {
		return TypeWebP
	}
	return TypeUnknown
}

// extensionSignatures maps the extensions covered by the magic-number check onto the signature each must carry.
// Extensions outside this set (plain text and friends) have no reliable signature and bypass the check.
var extensionSignatures = map[string]DetectedType{
	".png":  TypePNG,
	".jpg":  TypeJPEG,
	".jpeg": TypeJPEG,
	".gif":  TypeGIF,
	".webp": TypeWebP,
	".pdf":  TypePDF,
	".zip":  TypeZip,
	".docx": TypeZip,
	".xlsx": TypeZip,
	".pptx": TypeZip,
}

// MatchesExtension reports whether head's magic number is consistent with filename's extension. Uploads whose
// extension is not in the covered set pass; a covered extension whose bytes carry the wrong signature is rejected.
func MatchesExtension(head []byte, filename string) bool {
	want, ok := extensionSignatures[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return true
	}
	return DetectFileType(head) == want
}

// MatchesDeclaredType reports whether the detected signature is consistent with a client-declared MIME type. Unknown
// signatures never match, forcing callers to reject uploads whose content cannot be verified.
func MatchesDeclaredType(head []byte, declaredMIME string) bool {
	detected := DetectFileType(head)
	if detected == TypeUnknown {
		return false
	}

	switch declaredMIME {
	case "image/png":
		return detected == TypePNG
	case "image/jpeg", "image/jpg":
		return detected == TypeJPEG
	case "image/gif":
		return detected == TypeGIF
	case "image/webp":
		return detected == TypeWebP
	case "application/pdf":
		return detected == TypePDF
	case "application/zip",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return detected == TypeZip
	default:
		return false
	}
}
