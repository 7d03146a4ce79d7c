// Package core provides the execution model types for the factory test harness.
package core

// Attachment is an artifact produced by a test invocation
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: stdout, stderr, args
	ContentType string `json:"contentType"` // MIME type
	Path        string `json:"path"`        // File path, empty when only held in memory
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentStdout = "stdout"
	AttachmentStderr = "stderr"
	AttachmentArgs   = "args"
)

// Common content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// NewLogAttachment creates a plain text log attachment
func NewLogAttachment(name, path string, data []byte) Attachment {
	return Attachment{
		Name:        name,
		ContentType: ContentTypeText,
		Path:        path,
		Body:        data,
	}
}

// NewArgsAttachment records the resolved arguments a test was started with
func NewArgsAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentArgs,
		ContentType: ContentTypeJSON,
		Path:        path,
		Body:        data,
	}
}
