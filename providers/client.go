package providers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/utils"
)

const DefaultTimeout = 30 * time.Second

type ProviderClient interface {
	Call(ctx context.Context, url string, payload []models.ServicePair) models.ProviderResult
}

// CallObserver receives the outcome of every provider call.
type CallObserver func(statusCode int, elapsed time.Duration)

// HTTPProviderClient posts the service payload to a provider URL. It never retries
// and never returns an error: transport failures become a 500 result.
type HTTPProviderClient struct {
	client   *resty.Client
	observer CallObserver
}

func CreateHTTPProviderClient(timeout time.Duration, observer CallObserver) *HTTPProviderClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPProviderClient{client: client, observer: observer}
}

// Call is detached from the caller's cancellation; only the client timeout bounds it.
func (c *HTTPProviderClient) Call(ctx context.Context, url string, payload []models.ServicePair) models.ProviderResult {
	start := time.Now()
	result := c.do(context.WithoutCancel(ctx), url, payload)
	elapsed := time.Since(start)

	if c.observer != nil {
		c.observer(result.StatusCode, elapsed)
	}
	utils.Info(ctx, "Provider call finished", map[string]interface{}{
		"url":         url,
		"status_code": result.StatusCode,
		"duration_ms": elapsed.Milliseconds(),
	})
	return result
}

func (c *HTTPProviderClient) do(ctx context.Context, url string, payload []models.ServicePair) models.ProviderResult {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		perr := &utils.ProviderError{URL: url, Err: err}
		utils.Error(ctx, "Provider call failed", map[string]interface{}{
			"url":   url,
			"error": err,
		})
		return models.ProviderResult{
			StatusCode: 500,
			Data:       map[string]interface{}{"error": perr.Error()},
		}
	}

	return models.ProviderResult{
		StatusCode: resp.StatusCode(),
		Data:       decodeBody(resp.Header().Get("Content-Type"), resp.Body()),
	}
}

// decodeBody parses JSON bodies and falls back to raw text for anything else,
// including JSON-labelled bodies that do not parse.
func decodeBody(contentType string, body []byte) interface{} {
	if strings.HasPrefix(strings.ToLower(contentType), "application/json") {
		var data interface{}
		if err := json.Unmarshal(body, &data); err == nil {
			return data
		}
	}
	return string(body)
}
