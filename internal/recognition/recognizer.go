package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"facemark/internal/attendance"
	"facemark/internal/faceclient"
	"facemark/internal/faceindex"
	"facemark/internal/metrics"
)

// MarkedSuffix is appended to the display name when a request records the
// day's attendance.
const MarkedSuffix = " (Marked)"

// Status describes what happened to one detected face.
type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusMarked        Status = "marked"
	StatusAlreadyMarked Status = "already_marked"
	StatusMarkFailed    Status = "mark_failed"
)

// Detector finds and encodes faces in an image.
type Detector interface {
	DetectAndEncode(ctx context.Context, image []byte) ([]faceclient.Detection, error)
}

// SnapshotSource yields the current face index snapshot.
type SnapshotSource interface {
	Current() *faceindex.Snapshot
}

// Marker records attendance.
type Marker interface {
	Mark(ctx context.Context, enrolleeID string, at time.Time) (attendance.MarkResult, error)
}

// MarkEvent is emitted for every freshly recorded attendance.
type MarkEvent struct {
	EnrolleeID string    `json:"enrollee_id"`
	Name       string    `json:"name"`
	Day        string    `json:"day"`
	MarkedAt   time.Time `json:"marked_at"`
	Confidence string    `json:"confidence"`
}

// Publisher receives mark events, e.g. a websocket hub.
type Publisher interface {
	PublishMark(ev MarkEvent)
}

// FaceResult is the per-face response. Location is top, right, bottom, left.
type FaceResult struct {
	Name       string         `json:"name"`
	Confidence string         `json:"confidence"`
	Location   [4]int         `json:"location"`
	EnrolleeID string         `json:"enrollee_id,omitempty"`
	Status     Status         `json:"status"`
	Decision   Classification `json:"-"`
}

// Options tune a Recognizer. Zero values select defaults.
type Options struct {
	Tolerance float64
	Clock     func() time.Time
	Publisher Publisher
	Logger    *slog.Logger
}

// Recognizer handles one recognition request end to end.
type Recognizer struct {
	detector   Detector
	index      SnapshotSource
	ledger     Marker
	classifier *Classifier
	clock      func() time.Time
	publisher  Publisher
	logger     *slog.Logger
}

// NewRecognizer wires a recognizer.
func NewRecognizer(detector Detector, index SnapshotSource, ledger Marker, opts Options) *Recognizer {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recognizer{
		detector:   detector,
		index:      index,
		ledger:     ledger,
		classifier: NewClassifier(opts.Tolerance),
		clock:      opts.Clock,
		publisher:  opts.Publisher,
		logger:     opts.Logger.With("component", "recognition"),
	}
}

// Tolerance returns the active match tolerance.
func (r *Recognizer) Tolerance() float64 { return r.classifier.Tolerance }

// Recognize detects every face in image, classifies each against a single
// snapshot and marks attendance for matches. Results follow detection order.
// Detection errors (including faceclient.ErrUnreadableImage) fail the whole
// request before the index or ledger is touched; ledger errors only affect
// the face they belong to.
func (r *Recognizer) Recognize(ctx context.Context, image []byte) ([]FaceResult, error) {
	start := time.Now()
	detections, err := r.detector.DetectAndEncode(ctx, image)
	metrics.RecognitionDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RecognitionRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	snap := r.index.Current()
	now := r.clock()
	results := make([]FaceResult, 0, len(detections))

	classifyStart := time.Now()
	for _, det := range detections {
		decision := r.classifier.Classify(snap, det.Encoding)
		res := FaceResult{
			Name:       decision.Name,
			Confidence: FormatConfidence(decision.Confidence),
			Location:   [4]int{det.Box.Top, det.Box.Right, det.Box.Bottom, det.Box.Left},
			Status:     StatusUnknown,
			Decision:   decision,
		}
		if !decision.Matched {
			metrics.FacesClassified.WithLabelValues("unknown").Inc()
			results = append(results, res)
			continue
		}

		metrics.FacesClassified.WithLabelValues("matched").Inc()
		res.EnrolleeID = decision.OwnerID
		mark, err := r.ledger.Mark(ctx, decision.OwnerID, now)
		switch {
		case err != nil:
			r.logger.Error("mark attendance failed", "enrollee_id", decision.OwnerID, "error", err)
			res.Status = StatusMarkFailed
		case mark.Outcome == attendance.OutcomeMarked:
			res.Status = StatusMarked
			res.Name = decision.Name + MarkedSuffix
			r.publish(decision, mark, res.Confidence)
		default:
			res.Status = StatusAlreadyMarked
		}
		results = append(results, res)
	}
	metrics.RecognitionDuration.WithLabelValues("classify").Observe(time.Since(classifyStart).Seconds())
	metrics.RecognitionRequests.WithLabelValues("ok").Inc()

	r.logger.Debug("recognition done", "faces", len(results), "generation", snap.Generation)
	return results, nil
}

func (r *Recognizer) publish(decision Classification, mark attendance.MarkResult, confidence string) {
	if r.publisher == nil || mark.Record == nil {
		return
	}
	r.publisher.PublishMark(MarkEvent{
		EnrolleeID: decision.OwnerID,
		Name:       decision.Name,
		Day:        mark.Record.Day,
		MarkedAt:   mark.Record.MarkedAt,
		Confidence: confidence,
	})
}

// FormatConfidence renders a raw confidence as a percentage with two decimals.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.2f%%", c*100)
}
