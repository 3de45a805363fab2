package invoke

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPInvoker submits payloads to a function gateway over HTTP. Each function
// is addressed as POST {baseURL}/{function} with a JSON body. The gateway
// queues the execution and responds as soon as the payload is accepted.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPInvoker builds an invoker for the given gateway base URL.
func NewHTTPInvoker(baseURL string) *HTTPInvoker {
	return &HTTPInvoker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, function string, payload []byte) error {
	endpoint := i.baseURL + "/" + url.PathEscape(function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build invocation request for %s: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", function, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("invoke %s: gateway returned %s", function, resp.Status)
	}
	return nil
}
