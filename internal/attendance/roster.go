package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"facemark/internal/faceclient"
)

// Encoder finds and encodes faces in an image.
type Encoder interface {
	DetectAndEncode(ctx context.Context, image []byte) ([]faceclient.Detection, error)
}

// ImageStore keeps enrollment photos.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Rebuilder refreshes whatever serves recognition after a roster change.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// rebuildTimeout bounds the index rebuild that follows a committed change.
const rebuildTimeout = 30 * time.Second

var allowedExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Upload is one enrollment image.
type Upload struct {
	Filename string
	Data     []byte
}

// EnrollRequest describes a new enrollee and the photos to learn from.
type EnrollRequest struct {
	ExternalID string
	Name       string
	Email      string
	Images     []Upload
}

// EnrollResult reports a committed enrollment. CacheErr is set when the
// enrollee was stored but the follow-up rebuild failed.
type EnrollResult struct {
	Enrollee   Enrollee
	FacesAdded int
	Rejected   []string
	CacheErr   error
}

// RosterDeps wires a Roster.
type RosterDeps struct {
	Repo        *Repository
	Encoder     Encoder
	Images      ImageStore
	Index       Rebuilder
	EncodingDim int
	Logger      *slog.Logger
}

// Roster enrolls and removes people.
type Roster struct {
	repo    *Repository
	encoder Encoder
	images  ImageStore
	index   Rebuilder
	dim     int
	logger  *slog.Logger
}

// NewRoster creates a roster.
func NewRoster(d RosterDeps) *Roster {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{
		repo:    d.Repo,
		encoder: d.Encoder,
		images:  d.Images,
		index:   d.Index,
		dim:     d.EncodingDim,
		logger:  logger.With("component", "roster"),
	}
}

// Enroll stores every image, keeps the first face of each and creates the
// enrollee with all encodings in one transaction, then rebuilds the index.
// Images that fail (bad extension, storage, no face, wrong dimension) are
// skipped and their files removed. When no image yields a face nothing is
// persisted and ErrNoFacesDetected is returned.
func (r *Roster) Enroll(ctx context.Context, req EnrollRequest) (EnrollResult, error) {
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.ExternalID == "" || req.Name == "" {
		return EnrollResult{}, fmt.Errorf("%w: external id and name are required", ErrInvalidEnrollee)
	}
	if len(req.Images) == 0 {
		return EnrollResult{}, fmt.Errorf("%w: at least one image is required", ErrInvalidEnrollee)
	}

	existing, err := r.repo.GetEnrolleeByExternalID(ctx, req.ExternalID)
	if err != nil {
		return EnrollResult{}, err
	}
	if existing != nil {
		return EnrollResult{}, ErrEnrolleeExists
	}

	var (
		faces    []Face
		rejected []string
	)
	for _, img := range req.Images {
		face, err := r.encodeImage(ctx, req.ExternalID, img)
		if err != nil {
			r.logger.Warn("enrollment image rejected", "external_id", req.ExternalID, "file", img.Filename, "error", err)
			rejected = append(rejected, img.Filename)
			continue
		}
		faces = append(faces, face)
	}
	if len(faces) == 0 {
		return EnrollResult{Rejected: rejected}, ErrNoFacesDetected
	}

	e := Enrollee{ExternalID: req.ExternalID, Name: req.Name}
	if req.Email != "" {
		email := req.Email
		e.Email = &email
	}
	if err := r.repo.CreateEnrollee(ctx, &e, faces); err != nil {
		r.removeImages(ctx, faceKeys(faces))
		return EnrollResult{Rejected: rejected}, err
	}
	r.logger.Info("enrollee created", "enrollee_id", e.ID, "external_id", e.ExternalID, "faces", len(faces))

	res := EnrollResult{Enrollee: e, FacesAdded: len(faces), Rejected: rejected}
	if err := r.rebuild(ctx); err != nil {
		r.logger.Error("index rebuild after enrollment failed", "enrollee_id", e.ID, "error", err)
		res.CacheErr = err
	}
	return res, nil
}

// encodeImage stores one image and returns its first face. On any failure
// the stored file is removed again.
func (r *Roster) encodeImage(ctx context.Context, externalID string, img Upload) (Face, error) {
	name := SecureFilename(img.Filename)
	contentType, ok := allowedExtensions[strings.ToLower(path.Ext(name))]
	if !ok {
		return Face{}, fmt.Errorf("unsupported file type %q", img.Filename)
	}
	key := path.Join("faces", SecureFilename(externalID), uuid.NewString()+"_"+name)
	if err := r.images.Put(ctx, key, img.Data, contentType); err != nil {
		return Face{}, fmt.Errorf("store image: %w", err)
	}

	enc, err := r.firstEncoding(ctx, img.Data)
	if err != nil {
		if delErr := r.images.Delete(ctx, key); delErr != nil {
			r.logger.Warn("remove rejected image failed", "key", key, "error", delErr)
		}
		return Face{}, err
	}
	return Face{Encoding: enc, ImageKey: key}, nil
}

func (r *Roster) firstEncoding(ctx context.Context, data []byte) ([]float32, error) {
	detections, err := r.encoder.DetectAndEncode(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, errors.New("no face detected")
	}
	enc := detections[0].Encoding
	if r.dim > 0 && len(enc) != r.dim {
		return nil, fmt.Errorf("encoding has %d dimensions, want %d", len(enc), r.dim)
	}
	return enc, nil
}

// DeleteResult reports a committed deletion. CacheErr is set when the
// follow-up rebuild failed.
type DeleteResult struct {
	Enrollee Enrollee
	CacheErr error
}

// Delete removes an enrollee with its faces, attendance and photos, then
// rebuilds the index.
func (r *Roster) Delete(ctx context.Context, enrolleeID string) (DeleteResult, error) {
	e, err := r.repo.GetEnrollee(ctx, enrolleeID)
	if err != nil {
		return DeleteResult{}, err
	}
	if e == nil {
		return DeleteResult{}, ErrNotFound
	}
	keys, err := r.repo.FaceImageKeys(ctx, enrolleeID)
	if err != nil {
		return DeleteResult{}, err
	}
	deleted, err := r.repo.DeleteEnrollee(ctx, enrolleeID)
	if err != nil {
		return DeleteResult{}, err
	}
	if !deleted {
		return DeleteResult{}, ErrNotFound
	}
	r.removeImages(ctx, keys)
	r.logger.Info("enrollee deleted", "enrollee_id", enrolleeID, "external_id", e.ExternalID)

	res := DeleteResult{Enrollee: *e}
	if err := r.rebuild(ctx); err != nil {
		r.logger.Error("index rebuild after deletion failed", "enrollee_id", enrolleeID, "error", err)
		res.CacheErr = err
	}
	return res, nil
}

// rebuild refreshes the index after a commit. The change is already stored,
// so a caller that goes away must not leave the index behind it.
func (r *Roster) rebuild(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rebuildTimeout)
	defer cancel()
	return r.index.Rebuild(ctx)
}

// List returns every enrollee with its face count.
func (r *Roster) List(ctx context.Context) ([]EnrolleeSummary, error) {
	return r.repo.ListEnrollees(ctx)
}

// Get returns one enrollee or ErrNotFound.
func (r *Roster) Get(ctx context.Context, enrolleeID string) (*Enrollee, error) {
	e, err := r.repo.GetEnrollee(ctx, enrolleeID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

func (r *Roster) removeImages(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := r.images.Delete(ctx, k); err != nil {
			r.logger.Warn("remove image failed", "key", k, "error", err)
		}
	}
}

func faceKeys(faces []Face) []string {
	keys := make([]string, len(faces))
	for i, f := range faces {
		keys[i] = f.ImageKey
	}
	return keys
}

// SecureFilename reduces name to a safe single path element made of ASCII
// letters, digits, '.', '-' and '_'.
func SecureFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), "._")
	if out == "" {
		return "file"
	}
	return out
}
