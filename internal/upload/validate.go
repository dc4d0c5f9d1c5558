package upload

import (
	"fmt"
	"strings"

	"github.com/mediakeep/upload-service/internal/types"
)

// Supported file extensions by media class.
var supportedExtensions = map[string][]string{
	"image":    {"jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff"},
	"video":    {"mp4", "avi", "mov", "wmv", "flv", "webm", "mkv"},
	"document": {"pdf", "doc", "docx", "txt", "rtf"},
}

var videoExtensions = map[string]bool{
	"mp4": true, "avi": true, "mov": true, "wmv": true,
	"flv": true, "webm": true, "mkv": true,
}

// Validator checks file descriptors before any record is created. Size caps
// differ for video because multipart handles large video files.
type Validator struct {
	MaxFileSize  int64
	MaxVideoSize int64
}

// NewValidator returns a Validator with the default size caps: 100 MiB for
// images and documents, 5 GiB for video.
func NewValidator() *Validator {
	return &Validator{
		MaxFileSize:  100 * 1024 * 1024,
		MaxVideoSize: 5 * 1024 * 1024 * 1024,
	}
}

// ValidateFile rejects files with missing names, unsupported extensions, or
// sizes above the cap for their media class. All failures wrap
// ErrInvalidInput.
func (v *Validator) ValidateFile(f types.FileDescriptor) error {
	if f.Filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}

	ext := fileExtension(f.Filename)
	if ext == "" {
		return fmt.Errorf("%w: file %q must have an extension", ErrInvalidInput, f.Filename)
	}

	supported := false
	for _, extensions := range supportedExtensions {
		for _, e := range extensions {
			if ext == e {
				supported = true
				break
			}
		}
	}
	if !supported {
		return fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, ext)
	}

	maxSize := v.MaxFileSize
	if videoExtensions[ext] {
		maxSize = v.MaxVideoSize
	}
	if f.Size > maxSize {
		return fmt.Errorf("%w: file %q too large: %d bytes (max %d)", ErrInvalidInput, f.Filename, f.Size, maxSize)
	}
	if f.Size < 0 {
		return fmt.Errorf("%w: negative declared size %d for %q", ErrInvalidInput, f.Size, f.Filename)
	}

	return nil
}

// NormalizeFile fills boundary defaults so the engine never branches on
// input shape internally.
func NormalizeFile(f types.FileDescriptor) types.FileDescriptor {
	if f.ContentType == "" {
		f.ContentType = "application/octet-stream"
	}
	return f
}

func fileExtension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}
