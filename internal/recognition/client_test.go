package recognition

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-session-service/internal/domain/anpr"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
}

func TestRecognize_Success(t *testing.T) {
	original := []byte("original-jpeg")
	cropped := []byte("cropped-jpeg")

	var gotBody predictRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"regNum":            "กข1234",
			"province":          "Bangkok",
			"plate_confidence":  0.93,
			"ocr_confidence":    0.88,
			"latencyMs":         41.5,
			"readStatus":        "complete",
			"originalImage":     base64.StdEncoding.EncodeToString(original),
			"croppedPlateImage": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(cropped),
		})
	})

	reading, err := client.Recognize(context.Background(), []byte("frame"))
	require.NoError(t, err)

	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("frame")), gotBody.ImgBase64)
	assert.Equal(t, "กข1234", reading.RegNum)
	assert.Equal(t, "Bangkok", reading.Province)
	assert.Equal(t, 0.93, reading.PlateConfidence)
	assert.Equal(t, 0.88, reading.OCRConfidence)
	assert.Equal(t, anpr.ReadComplete, reading.ReadStatus)
	assert.Equal(t, original, reading.OriginalImage)
	assert.Equal(t, cropped, reading.CroppedImage)
}

func TestRecognize_NoPlateHasNoImages(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"readStatus":"no_plate"}`))
	})

	reading, err := client.Recognize(context.Background(), []byte("frame"))
	require.NoError(t, err)
	assert.Equal(t, anpr.ReadNoPlate, reading.ReadStatus)
	assert.Nil(t, reading.OriginalImage)
	assert.Nil(t, reading.CroppedImage)
}

func TestRecognize_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
	}{
		{"server error", http.StatusInternalServerError, "boom", true},
		{"bad gateway", http.StatusBadGateway, "", true},
		{"rejected", http.StatusBadRequest, `{"detail":"bad image"}`, false},
		{"malformed json", http.StatusOK, `{"regNum":`, false},
		{"bad image encoding", http.StatusOK, `{"readStatus":"complete","originalImage":"%%%"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.Recognize(context.Background(), []byte("frame"))
			require.Error(t, err)
			if tt.unavailable {
				assert.ErrorIs(t, err, ErrUnavailable)
			} else {
				assert.NotErrorIs(t, err, ErrUnavailable)
			}
		})
	}
}

func TestRecognize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, Timeout: time.Second})
	_, err := client.Recognize(context.Background(), []byte("frame"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDecodeImage(t *testing.T) {
	data, err := decodeImage("")
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = decodeImage("data:image/png;base64,aGk=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)

	data, err = decodeImage("aGk=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)
}
