package face

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/httputil"
	"cleanup_worker/pkg/metrics"
	"cleanup_worker/pkg/resilience"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
)

const faceService = "face-service"

// ServiceClient talks to an inference sidecar exposing:
//
//	POST /v1/detect  body: image bytes  -> {"faces":[{"box":{...},"confidence":0.98}]}
//	POST /v1/embed   body: PNG crop     -> {"embedding":[...]}
type ServiceClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

var (
	_ out.FaceDetector = (*ServiceClient)(nil)
	_ out.FaceEmbedder = (*ServiceClient)(nil)
)

func NewServiceClient(baseURL string, client *http.Client) (*ServiceClient, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, apperr.ConfigError("face service URL is required")
	}
	if client == nil {
		client = httputil.NewClient(httputil.FaceServiceClientConfig())
	}
	return &ServiceClient{
		baseURL: baseURL,
		http:    client,
		cb:      resilience.NewCircuitBreaker(faceService),
	}, nil
}

type detectResponse struct {
	Faces []struct {
		Box        domain.BoundingBox `json:"box"`
		Confidence float64            `json:"confidence"`
	} `json:"faces"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *ServiceClient) Detect(ctx context.Context, img []byte) ([]out.FaceRegion, error) {
	var resp detectResponse
	if err := c.post(ctx, "detect", "application/octet-stream", img, &resp); err != nil {
		return nil, err
	}
	regions := make([]out.FaceRegion, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		regions = append(regions, out.FaceRegion{Box: f.Box, DetectorConfidence: f.Confidence})
	}
	return regions, nil
}

func (c *ServiceClient) Embed(ctx context.Context, region out.FaceRegion) (domain.Embedding, error) {
	var resp embedResponse
	if err := c.post(ctx, "embed", "image/png", region.Pixels, &resp); err != nil {
		return nil, err
	}
	return domain.Embedding(resp.Embedding), nil
}

func (c *ServiceClient) post(ctx context.Context, op, contentType string, body []byte, dst any) error {
	start := time.Now()
	err := resilience.Execute(c.cb, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/"+op, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
			if resp.StatusCode >= 500 {
				return err
			}
			return apperr.RemoteRejected(faceService, resp.StatusCode, err)
		}
		return json.NewDecoder(resp.Body).Decode(dst)
	}, func(err error) bool { return !apperr.IsRejected(err) })
	metrics.ObserveRemoteCall(faceService, op, start, err)

	if err != nil && !apperr.IsAppError(err) {
		return apperr.TransientRemote(faceService, err)
	}
	return err
}
