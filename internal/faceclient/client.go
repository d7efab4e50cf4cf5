package faceclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrUnreadableImage is returned when the face service cannot decode the image.
var ErrUnreadableImage = errors.New("unreadable image")

// ErrServiceUnavailable is returned when the face service fails or cannot be reached.
var ErrServiceUnavailable = errors.New("face service unavailable")

// Box is a face bounding box in pixel coordinates.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Detection is one face found in an image, with its encoding.
type Detection struct {
	Box      Box
	Encoding []float32
}

// Client calls the face detection/encoding microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
	// Dim is the encoding length produced in Skip mode.
	Dim int
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second // face processing can take time
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		Dim:     128,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// DetectAndEncode finds every face in image and returns one Detection per
// face, in the order the service reports them. Zero detections is not an error.
func (c *Client) DetectAndEncode(ctx context.Context, image []byte) ([]Detection, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnreadableImage)
	}
	if c.Skip {
		return []Detection{{Box: Box{Top: 0, Right: 100, Bottom: 100, Left: 0}, Encoding: fakeEncoding(image, c.Dim)}}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "image")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/encode", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrUnreadableImage, string(bodyBytes))
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s: %s", ErrServiceUnavailable, resp.Status, string(bodyBytes))
	}

	var out struct {
		Faces []struct {
			Box      [4]int    `json:"box"` // top, right, bottom, left
			Encoding []float32 `json:"encoding"`
		} `json:"faces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrServiceUnavailable, err)
	}

	detections := make([]Detection, 0, len(out.Faces))
	for _, f := range out.Faces {
		detections = append(detections, Detection{
			Box:      Box{Top: f.Box[0], Right: f.Box[1], Bottom: f.Box[2], Left: f.Box[3]},
			Encoding: f.Encoding,
		})
	}
	return detections, nil
}

// Health checks the face service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// fakeEncoding derives a stable unit-scale vector from the image bytes so the
// same photo always encodes the same way in Skip mode.
func fakeEncoding(image []byte, dim int) []float32 {
	if dim <= 0 {
		dim = 128
	}
	out := make([]float32, dim)
	seed := sha256.Sum256(image)
	block := seed[:]
	for i := 0; i < dim; i++ {
		if i > 0 && i%8 == 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		v := binary.BigEndian.Uint32(block[(i%8)*4:])
		out[i] = float32(v)/float32(^uint32(0))*0.2 - 0.1
	}
	return out
}
