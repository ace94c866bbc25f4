package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/labflow/internal/llmerr"
)

// maxErrorBody caps how much of a failed response is kept in Details.
const maxErrorBody = 4096

// PostJSON marshals body, POSTs it with the given headers and returns the
// status code and raw response body. Transport failures come back as
// retryable NETWORK_ERROR values.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, llmerr.Wrap(err, llmerr.CodeInvalidConfig, "failed to encode request", false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, llmerr.Wrap(err, llmerr.CodeInvalidConfig, "failed to build request", false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, nil, llmerr.Wrap(err, llmerr.CodeNetwork, fmt.Sprintf("request to %s failed", url), true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, llmerr.Wrap(err, llmerr.CodeNetwork, "failed to read response body", true)
	}
	return resp.StatusCode, respBody, nil
}

// APIError builds the error for a non-2xx backend reply. The code decides
// retryability through the backend's allow-list.
func APIError(kind Kind, status int, code, message string, body []byte, retryable map[string]bool) *llmerr.Error {
	if message == "" {
		message = http.StatusText(status)
	}
	details := string(body)
	if len(details) > maxErrorBody {
		details = details[:maxErrorBody]
	}
	return &llmerr.Error{
		Code:       code,
		Message:    message,
		Details:    details,
		Retryable:  retryable[code],
		Provider:   string(kind),
		StatusCode: status,
	}
}

// InvalidResponse reports a 2xx body that could not be decoded.
func InvalidResponse(kind Kind, body []byte, cause error) *llmerr.Error {
	e := llmerr.Wrap(cause, llmerr.CodeInvalidResponse, "failed to decode response", false)
	e.Provider = string(kind)
	e.Details = string(body)
	if len(e.Details) > maxErrorBody {
		e.Details = e.Details[:maxErrorBody]
	}
	return e
}

// EmptyResponse reports a reply without any text content.
func EmptyResponse(kind Kind) *llmerr.Error {
	return llmerr.New(llmerr.CodeEmptyResponse, "response contained no content").WithProvider(string(kind))
}

// MissingKey is returned by network clients constructed without credentials.
func MissingKey(kind Kind) *llmerr.Error {
	return llmerr.New(llmerr.CodeMissingAPIKey, fmt.Sprintf("%s API key is not configured", kind)).WithProvider(string(kind))
}
