package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/facegate/internal/database"
)

var (
	// ErrNoFace is returned when an enrollment image contains no face.
	ErrNoFace = errors.New("no face found in image")
	// ErrMultipleFaces is returned when an enrollment image contains more than one face.
	ErrMultipleFaces = errors.New("more than one face in image")
	// ErrDuplicateName is returned when another identity already uses the display name.
	ErrDuplicateName = errors.New("display name already enrolled")
	// ErrEnrollmentDisabled is returned when the pipeline has no enroller.
	ErrEnrollmentDisabled = errors.New("enrollment not available")
)

// Enroll registers the single face in image as identity. A blank identity
// gets a generated one.
func (p *Pipeline) Enroll(ctx context.Context, identity, displayName string, image []byte, now time.Time) (database.FaceTemplate, error) {
	if p.enroller == nil || p.faces == nil {
		return database.FaceTemplate{}, ErrEnrollmentDisabled
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = uuid.NewString()
	}
	displayName = strings.Join(strings.Fields(displayName), " ")
	if err := p.checkName(identity, displayName); err != nil {
		return database.FaceTemplate{}, err
	}

	faces, err := p.extractor.Extract(ctx, image)
	if err != nil {
		return database.FaceTemplate{}, fmt.Errorf("extract faces: %w", err)
	}
	switch len(faces) {
	case 0:
		return database.FaceTemplate{}, ErrNoFace
	case 1:
	default:
		return database.FaceTemplate{}, fmt.Errorf("%w: found %d", ErrMultipleFaces, len(faces))
	}

	t := database.FaceTemplate{
		Identity:    identity,
		DisplayName: displayName,
		Embedding:   faces[0].Embedding,
		Status:      database.TemplateStatusActive,
		UpdatedAt:   now,
	}
	if err := p.enroller.Enroll(ctx, t); err != nil {
		return database.FaceTemplate{}, err
	}
	p.log.Info().Str("identity", identity).Str("name", displayName).Msg("face enrolled")
	return t, nil
}

// checkName rejects a display name that another identity already uses.
func (p *Pipeline) checkName(identity, displayName string) error {
	if displayName == "" {
		return nil
	}
	want := NormalizeName(displayName)
	for t := range p.faces.Snapshot().All() {
		if t.Identity != identity && NormalizeName(t.DisplayName) == want {
			return fmt.Errorf("%w: %q is used by %s", ErrDuplicateName, displayName, t.Identity)
		}
	}
	return nil
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName normalizes a display name for comparison (lowercase, no
// diacritics, dashes as spaces, single spaces).
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}
