package users

import (
	"context"
	"log/slog"

	"faceattend/internal/errs"
	"faceattend/internal/face"
)

// TemplateCipher is the slice of the vault the enroller needs.
type TemplateCipher interface {
	Encrypt(face.Descriptor) ([]byte, error)
}

// Directory is the user lookup surface the enroller and recorder consume.
type Directory interface {
	Get(ctx context.Context, id string) (*User, error)
	SaveTemplate(ctx context.Context, userID string, blob []byte) error
}

// Enroller extracts, encrypts and stores a user's face template.
type Enroller struct {
	dir       Directory
	extractor *face.Extractor
	cipher    TemplateCipher
	logger    *slog.Logger
}

// NewEnroller wires the enrollment flow.
func NewEnroller(dir Directory, extractor *face.Extractor, cipher TemplateCipher, logger *slog.Logger) *Enroller {
	return &Enroller{dir: dir, extractor: extractor, cipher: cipher, logger: logger}
}

// Enroll replaces the user's stored template with one extracted from image.
// Quality is returned for operator feedback but never gates enrollment.
func (e *Enroller) Enroll(ctx context.Context, userID string, image []byte) (int, error) {
	user, err := e.dir.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !user.IsActive {
		return 0, errs.E(errs.KindValidation, "user is inactive")
	}

	capture, err := e.extractor.Extract(image)
	if err != nil {
		return 0, err
	}
	blob, err := e.cipher.Encrypt(capture.Descriptor)
	if err != nil {
		return 0, err
	}
	if err := e.dir.SaveTemplate(ctx, userID, blob); err != nil {
		return 0, err
	}
	if e.logger != nil {
		e.logger.Info("face enrolled", "user_id", userID, "quality", capture.Quality)
	}
	return capture.Quality, nil
}
