package upload

import (
	"fmt"

	"github.com/mediakeep/upload-service/internal/types"
)

// Default strategy thresholds. 5 MiB is the minimum multipart segment size
// accepted by most object-storage providers.
const (
	DefaultMultipartThreshold = 100 * 1024 * 1024
	DefaultPartSize           = 5 * 1024 * 1024
)

// Selector chooses between simple and multipart upload per file.
type Selector struct {
	MultipartThreshold int64
	PartSize           int64
}

// NewSelector returns a Selector with the default thresholds.
func NewSelector() *Selector {
	return &Selector{
		MultipartThreshold: DefaultMultipartThreshold,
		PartSize:           DefaultPartSize,
	}
}

// Select returns the upload plan for a file of the declared size. Sizes below
// the multipart threshold (including zero) map to simple; anything else gets
// a multipart plan with ceil(size/partSize) parts. Negative sizes are
// rejected with ErrInvalidInput.
func (s *Selector) Select(declaredSize int64) (types.UploadPlan, error) {
	if declaredSize < 0 {
		return types.UploadPlan{}, fmt.Errorf("%w: negative declared size %d", ErrInvalidInput, declaredSize)
	}

	if declaredSize < s.MultipartThreshold {
		return types.UploadPlan{Mode: types.ModeSimple}, nil
	}

	totalParts := int((declaredSize + s.PartSize - 1) / s.PartSize)
	if totalParts < 1 {
		totalParts = 1
	}

	return types.UploadPlan{
		Mode:       types.ModeMultipart,
		PartSize:   s.PartSize,
		TotalParts: totalParts,
	}, nil
}
