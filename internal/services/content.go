package services

import (
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Message length limits
const (
	MaxMessageLength = 8000
	MaxUploadBytes   = 10 << 20
	maxFileNameRunes = 255
)

// Dangerous patterns stripped from text content
var (
	scriptTagRegex = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	onEventRegex   = regexp.MustCompile(`(?i)\s+on\w+\s*=`)
)

// SanitizeMessageContent cleans and validates text/system content
func SanitizeMessageContent(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", invalid("message cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", invalid("message exceeds maximum length")
	}

	content = scriptTagRegex.ReplaceAllString(content, "")
	content = onEventRegex.ReplaceAllString(content, " ")
	content = strings.TrimSpace(content)

	if content == "" {
		return "", invalid("message cannot be empty after sanitization")
	}
	return content, nil
}

// allowedUploadTypes maps each accepted extension to the MIME types it may be declared with
var allowedUploadTypes = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
	".pdf":  {"application/pdf"},
	".doc":  {"application/msword"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	".txt":  {"text/plain"},
}

// ValidateUpload checks name, declared type and size before any byte is read.
// It returns the normalized MIME type to store.
func ValidateUpload(fileName, mimeType string, size, limit int64) (string, error) {
	if limit <= 0 {
		limit = MaxUploadBytes
	}
	if size <= 0 {
		return "", invalid("file is empty")
	}
	if size > limit {
		return "", invalid("file exceeds the upload size limit")
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	allowed, ok := allowedUploadTypes[ext]
	if !ok {
		return "", invalid("file type not allowed")
	}

	declared := ""
	if mimeType != "" {
		mt, _, err := mime.ParseMediaType(mimeType)
		if err != nil {
			return "", invalid("malformed content type")
		}
		declared = strings.ToLower(mt)
	}
	// Browsers send octet-stream for types they don't know; fall back to the extension
	if declared == "" || declared == "application/octet-stream" {
		return allowed[0], nil
	}
	for _, a := range allowed {
		if a == declared {
			return declared, nil
		}
	}
	return "", invalid("file type does not match its extension")
}

// CleanFileName keeps the display name of an upload without any path components
func CleanFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimSpace(name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	r := []rune(name)
	if len(r) > maxFileNameRunes {
		ext := []rune(filepath.Ext(name))
		if len(ext) >= maxFileNameRunes {
			return string(r[:maxFileNameRunes])
		}
		name = string(r[:maxFileNameRunes-len(ext)]) + string(ext)
	}
	return name
}
