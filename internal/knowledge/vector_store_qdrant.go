package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint   string
	APIKey     string
	VectorSize int
	Distance   string
	UseTLS     bool
	Timeout    time.Duration
}

type qdrantVectorStore struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	vectorSize int
	distance   string
}

// NewQdrantVectorStore 创建Qdrant向量存储（REST接口）
func NewQdrantVectorStore(opts QdrantOptions) (VectorStore, error) {
	if opts.Endpoint == "" {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://localhost:6333", scheme)
	}

	if !strings.HasPrefix(opts.Endpoint, "http") {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}

	if opts.VectorSize == 0 {
		opts.VectorSize = 3072
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &qdrantVectorStore{
		client: &http.Client{
			Timeout: timeout,
		},
		endpoint:   strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		vectorSize: opts.VectorSize,
		distance:   formatDistance(opts.Distance),
	}, nil
}

func (s *qdrantVectorStore) EnsureCollection(ctx context.Context, name string) error {
	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", name), nil)
	if err != nil {
		return s.wrapTransportError("get collection", err)
	}
	if resp.StatusCode == http.StatusOK {
		defer resp.Body.Close()

		var infoResp struct {
			Result struct {
				Config struct {
					Params struct {
						Vectors struct {
							Size     int    `json:"size"`
							Distance string `json:"distance"`
						} `json:"vectors"`
					} `json:"params"`
				} `json:"config"`
			} `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&infoResp); err != nil {
			return apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError, "decode collection info failed").WithCause(err)
		}

		// 已存在的集合维度不一致是配置级错误，不做自动迁移
		if size := infoResp.Result.Config.Params.Vectors.Size; size != s.vectorSize {
			return apperrors.NewCollectionConflictError(name, s.vectorSize, size)
		}
		return nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.vectorSize,
			"distance": s.distance,
		},
	}
	resp, err = s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", name), body)
	if err != nil {
		return s.wrapTransportError("create collection", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError,
			fmt.Sprintf("create collection %s failed: %s", name, resp.Status))
	}

	return nil
}

func (s *qdrantVectorStore) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	payloadPoints := make([]map[string]interface{}, 0, len(points))
	for _, point := range points {
		if len(point.Vector) != s.vectorSize {
			return apperrors.NewValidationError(
				fmt.Sprintf("point %d has vector size %d, collection expects %d", point.ID, len(point.Vector), s.vectorSize))
		}
		payloadPoints = append(payloadPoints, map[string]interface{}{
			"id":      point.ID,
			"vector":  point.Vector,
			"payload": point.Payload,
		})
	}

	body := map[string]interface{}{
		"points": payloadPoints,
	}

	// wait=true保证写入确认后才返回，后续检索必然可见
	resp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", collection), body)
	if err != nil {
		return s.wrapTransportError("upsert", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError,
			fmt.Sprintf("qdrant upsert failed: %s %s", resp.Status, string(raw)))
	}

	return nil
}

func (s *qdrantVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if err := s.EnsureCollection(ctx, req.Collection); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	body := map[string]interface{}{
		"vector":          req.QueryEmbedding,
		"limit":           req.Limit,
		"with_payload":    true,
		"with_vectors":    false,
		"score_threshold": req.Threshold,
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", req.Collection), body)
	if err != nil {
		return nil, s.wrapTransportError("search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError,
			fmt.Sprintf("qdrant search failed: %s %s", resp.Status, string(raw)))
	}

	var searchResp struct {
		Result []struct {
			ID      uint64                 `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError, "decode search response failed").WithCause(err)
	}

	results := make([]SearchMatch, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		results = append(results, SearchMatch{
			ID:      item.ID,
			Score:   item.Score,
			Payload: item.Payload,
		})
	}

	return results, nil
}

func (s *qdrantVectorStore) DeleteCollection(ctx context.Context, name string) error {
	resp, err := s.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", name), nil)
	if err != nil {
		return s.wrapTransportError("delete collection", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError,
			fmt.Sprintf("qdrant delete collection failed: %s %s", resp.Status, string(raw)))
	}
	return nil
}

func (s *qdrantVectorStore) Ready() bool {
	return s.client != nil
}

func (s *qdrantVectorStore) wrapTransportError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(operation).WithCause(err)
	}
	return apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError,
		fmt.Sprintf("qdrant %s request failed", operation)).WithCause(err)
}

func (s *qdrantVectorStore) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
