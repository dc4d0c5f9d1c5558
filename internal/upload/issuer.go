package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/mediakeep/upload-service/internal/types"
)

// Issuer asks object storage for time-limited write grants: one presigned
// PUT per simple file, or a multipart session plus one presigned PUT per
// part for large files.
type Issuer struct {
	store    ObjectStore
	selector *Selector
	now      func() time.Time
}

// NewIssuer creates an Issuer over the given object store.
func NewIssuer(store ObjectStore, selector *Selector) *Issuer {
	return &Issuer{
		store:    store,
		selector: selector,
		now:      time.Now,
	}
}

// Issue returns one FileGrant per input file, in order. Grant issuance
// failure for one file never aborts the rest: the grant carries an error
// entry instead and issuance continues. Keys are the deterministic
// owner/originals/YYYY/MM form.
func (i *Issuer) Issue(ctx context.Context, ownerID string, files []types.FileDescriptor, expiry time.Duration) []types.FileGrant {
	grants := make([]types.FileGrant, 0, len(files))

	for _, f := range files {
		f = NormalizeFile(f)
		key := StorageKey(ownerID, f.Filename, i.now())
		grants = append(grants, i.issueOne(ctx, f, key, expiry))
	}

	return grants
}

// IssueFor issues a grant for a single file at an explicit storage key,
// used by the single-file flow where keys carry a uniquifying file id.
func (i *Issuer) IssueFor(ctx context.Context, f types.FileDescriptor, key string, expiry time.Duration) types.FileGrant {
	return i.issueOne(ctx, NormalizeFile(f), key, expiry)
}

func (i *Issuer) issueOne(ctx context.Context, f types.FileDescriptor, key string, expiry time.Duration) types.FileGrant {
	grant := types.FileGrant{
		Filename:    f.Filename,
		StorageKey:  key,
		ContentType: f.ContentType,
	}

	plan, err := i.selector.Select(f.Size)
	if err != nil {
		grant.Error = err.Error()
		return grant
	}
	grant.Mode = plan.Mode

	if plan.Mode == types.ModeSimple {
		url, err := i.store.PresignedPut(ctx, key, f.ContentType, expiry)
		if err != nil {
			slog.Error("failed to issue upload grant",
				slog.String("filename", f.Filename),
				slog.String("error", err.Error()))
			grant.Error = err.Error()
			return grant
		}
		grant.UploadURL = url
		grant.ExpiresAt = i.now().Add(expiry).Unix()
		return grant
	}

	uploadID, err := i.store.CreateMultipartSession(ctx, key, f.ContentType)
	if err != nil {
		slog.Error("failed to create multipart session",
			slog.String("filename", f.Filename),
			slog.String("error", err.Error()))
		grant.Error = err.Error()
		return grant
	}

	grant.UploadID = uploadID
	grant.PartSize = plan.PartSize
	grant.Parts = make([]types.PartGrant, 0, plan.TotalParts)

	for part := 1; part <= plan.TotalParts; part++ {
		url, err := i.store.PresignPart(ctx, key, uploadID, part, expiry)
		if err != nil {
			slog.Error("failed to presign multipart part",
				slog.String("filename", f.Filename),
				slog.Int("part", part),
				slog.String("error", err.Error()))
			grant.Error = err.Error()
			grant.Parts = nil
			return grant
		}
		grant.Parts = append(grant.Parts, types.PartGrant{PartNumber: part, UploadURL: url})
	}

	grant.ExpiresAt = i.now().Add(expiry).Unix()
	return grant
}
