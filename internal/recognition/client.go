package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"anpr-session-service/internal/domain/anpr"
)

var ErrUnavailable = errors.New("recognition service unavailable")

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the external plate detection + OCR service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

type predictRequest struct {
	ImgBase64 string `json:"imgBase64"`
}

type predictResponse struct {
	RegNum            string  `json:"regNum"`
	Province          string  `json:"province"`
	PlateConfidence   float64 `json:"plate_confidence"`
	OCRConfidence     float64 `json:"ocr_confidence"`
	LatencyMs         float64 `json:"latencyMs"`
	ReadStatus        string  `json:"readStatus"`
	OriginalImage     string  `json:"originalImage"`
	CroppedPlateImage string  `json:"croppedPlateImage"`
}

// Recognize sends image to POST /predict. Images in the answer are base64.
func (c *Client) Recognize(ctx context.Context, image []byte) (*anpr.PlateReading, error) {
	payload, err := json.Marshal(predictRequest{ImgBase64: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognition rejected image: status %d: %s", resp.StatusCode, string(body))
	}

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	original, err := decodeImage(out.OriginalImage)
	if err != nil {
		return nil, fmt.Errorf("decode originalImage: %w", err)
	}
	cropped, err := decodeImage(out.CroppedPlateImage)
	if err != nil {
		return nil, fmt.Errorf("decode croppedPlateImage: %w", err)
	}

	return &anpr.PlateReading{
		RegNum:          out.RegNum,
		Province:        out.Province,
		PlateConfidence: out.PlateConfidence,
		OCRConfidence:   out.OCRConfidence,
		LatencyMs:       out.LatencyMs,
		ReadStatus:      anpr.ReadStatus(out.ReadStatus),
		OriginalImage:   original,
		CroppedImage:    cropped,
	}, nil
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}
