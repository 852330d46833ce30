// Package extractor turns a face image into an embedding. The actual
// model is an opaque external dependency (a face embedding inference
// service); this package owns the HTTP client, the image preprocessing and
// the policy for images with zero or multiple faces.
package extractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/eagleaccess/eagle/internal/embedding"
)

// ErrNoFaceDetected is returned when the image contains no detectable face.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned under the strict policy when the image
// contains more than one face.
var ErrMultipleFaces = errors.New("multiple faces detected")

// FacePolicy decides what happens when an image contains more than one
// face. The choice is explicit configuration, never implicit.
type FacePolicy string

const (
	// PolicyStrict fails with ErrMultipleFaces on more than one face.
	PolicyStrict FacePolicy = "strict"
	// PolicyLargest selects the face with the largest bounding-box area.
	PolicyLargest FacePolicy = "largest"
)

// ParseFacePolicy validates a policy name from configuration.
func ParseFacePolicy(s string) (FacePolicy, error) {
	switch FacePolicy(s) {
	case PolicyStrict, PolicyLargest:
		return FacePolicy(s), nil
	}
	return "", fmt.Errorf("unknown face policy %q", s)
}

// Extractor converts an encoded face image into an embedding. Extraction
// is pure over the image: no state is kept between calls.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte) (embedding.Embedding, error)
}

// Face is a single detected face reported by the embedding service.
type Face struct {
	FaceIndex int                 `json:"face_index"`
	Dim       int                 `json:"dim"`
	Embedding embedding.Embedding `json:"embedding"`
	BBox      []float64           `json:"bbox"` // [x1, y1, x2, y2] in pixels
	DetScore  float64             `json:"det_score"`
}

// bboxArea returns the area of a [x1, y1, x2, y2] bounding box.
func bboxArea(bbox []float64) float64 {
	if len(bbox) != 4 {
		return 0
	}
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// selectFace applies the multi-face policy to a detection list.
func selectFace(faces []Face, policy FacePolicy) (Face, error) {
	switch len(faces) {
	case 0:
		return Face{}, ErrNoFaceDetected
	case 1:
		return faces[0], nil
	}

	if policy == PolicyStrict {
		return Face{}, fmt.Errorf("%w: %d faces", ErrMultipleFaces, len(faces))
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if bboxArea(f.BBox) > bboxArea(best.BBox) {
			best = f
		}
	}
	return best, nil
}
