package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

const maxErrorBody = 4096

// SignedURLFetcher downloads payloads over HTTP from {base}/{id}
type SignedURLFetcher struct {
	base   string
	client *http.Client
}

// NewSignedURLFetcher creates a fetcher with the given request timeout
func NewSignedURLFetcher(base string, timeout time.Duration) *SignedURLFetcher {
	return NewSignedURLFetcherWithClient(base, &http.Client{Timeout: timeout})
}

// NewSignedURLFetcherWithClient creates a fetcher using client
func NewSignedURLFetcherWithClient(base string, client *http.Client) *SignedURLFetcher {
	return &SignedURLFetcher{base: strings.TrimRight(base, "/"), client: client}
}

// GetPayload downloads the payload of id
func (f *SignedURLFetcher) GetPayload(ctx context.Context, id string) ([]byte, error) {
	if f.base == "" {
		return nil, ErrDisabled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeNetwork, "failed to build payload request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeNetwork, "failed to fetch dataset %s", id)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := errorDetail(resp)
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, detail)

		if resp.StatusCode == http.StatusNotFound {
			return nil, notFound(id, cause)
		}

		return nil, errors.Wrapf(cause, errors.ErrTypeNetwork, "failed to fetch dataset %s", id)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeNetwork, "failed to read dataset %s", id)
	}

	return data, nil
}

// errorDetail renders an error body as readable text; HTML pages become markdown
func errorDetail(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return http.StatusText(resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/html" {
		if md, err := htmltomarkdown.ConvertString(string(body)); err == nil {
			return strings.TrimSpace(md)
		}
	}

	return strings.TrimSpace(string(body))
}
