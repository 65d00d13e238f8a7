package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FetchError describes a failure to open a result file.
type FetchError struct {
	URL    string
	Status int
	Cause  error
}

func (e *FetchError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("failed to read %s: %v", e.URL, e.Cause)
	case e.Status != 0:
		return fmt.Sprintf("failed to read %s: HTTP status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("failed to read %s", e.URL)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Opener opens result files by URL. URLs under BaseURL are first looked up
// in the local mirror rooted at BasePath; anything else, or a mirror miss,
// is fetched over HTTP.
type Opener struct {
	BaseURL  string
	BasePath string
	Client   *http.Client
}

// NewOpener creates an opener with an HTTP client bounded by timeout.
func NewOpener(baseURL, basePath string, timeout time.Duration) *Opener {
	return &Opener{
		BaseURL:  baseURL,
		BasePath: basePath,
		Client:   &http.Client{Timeout: timeout},
	}
}

// LocalPath maps url onto the local mirror. ok is false when url is not
// under BaseURL.
func (o *Opener) LocalPath(url string) (path string, ok bool) {
	if o.BaseURL == "" || o.BasePath == "" {
		return "", false
	}
	base := strings.TrimRight(o.BaseURL, "/")
	if url != base && !strings.HasPrefix(url, base+"/") {
		return "", false
	}
	rel := strings.TrimPrefix(url, base)
	if strings.Contains(rel, "..") {
		return "", false
	}
	return filepath.Join(o.BasePath, filepath.FromSlash(rel)), true
}

// Open returns a reader over the file at url. The caller closes it.
func (o *Opener) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	if path, ok := o.LocalPath(url); ok {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return nil, &FetchError{URL: url, Cause: err}
			}
			return f, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Cause: err}
	}

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}
	return resp.Body, nil
}
