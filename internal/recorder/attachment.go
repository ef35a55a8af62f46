package recorder

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/vburojevic/valet/internal/bundle"
	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
)

// Attachment is binary side-content passed to RecordEvent.
type Attachment struct {
	Name    string
	MIME    string
	Content []byte
}

const defaultMIME = "application/octet-stream"

// prepareAttachments validates the event's attachments and returns their
// descriptors plus the archive blobs, both in input order.
func prepareAttachments(seq int, in []Attachment) ([]domain.Attachment, []bundle.Blob, error) {
	descriptors := make([]domain.Attachment, 0, len(in))
	blobs := make([]bundle.Blob, 0, len(in))
	seen := make(map[string]struct{}, len(in))

	for _, a := range in {
		if err := validateAttachmentName(a.Name); err != nil {
			return nil, nil, err
		}
		if _, dup := seen[a.Name]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidAttachment, a.Name)
		}
		seen[a.Name] = struct{}{}

		mime := a.MIME
		if mime == "" {
			mime = defaultMIME
		}
		content := append([]byte(nil), a.Content...)
		p := path.Join("attachments", strconv.Itoa(seq), a.Name)

		descriptors = append(descriptors, domain.Attachment{
			Name:         a.Name,
			SHA256:       digest.Hex(content),
			SizeBytes:    int64(len(content)),
			MIME:         mime,
			PathInBundle: p,
		})
		blobs = append(blobs, bundle.Blob{Path: p, Content: content})
	}
	return descriptors, blobs, nil
}

func validateAttachmentName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidAttachment)
	case name == "." || name == "..":
		return fmt.Errorf("%w: invalid name %q", ErrInvalidAttachment, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: name %q contains a path separator", ErrInvalidAttachment, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: name contains NUL", ErrInvalidAttachment)
	}
	return nil
}
