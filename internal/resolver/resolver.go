package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
)

// Content is the display metadata behind a content descriptor
type Content struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Image is a fetchable URL; ipfs:// and ar:// locators are rewritten to a gateway
	Image string `json:"image"`
}

// Config holds configuration for the content resolver
type Config struct {
	// IPFSGateways is the list of IPFS gateways to try, e.g. https://ipfs.io
	IPFSGateways []string
	// ArweaveGateways is the list of Arweave gateways to try
	ArweaveGateways []string
}

// ContentResolver fetches and decodes the metadata document a descriptor points to
//
//go:generate mockgen -source=resolver.go -destination=../mocks/resolver.go -package=mocks -mock_names=ContentResolver=MockContentResolver
type ContentResolver interface {
	// Resolve returns the content behind descriptor.
	// Errors wrap domain.ErrNotFound, domain.ErrUnreachable or domain.ErrMalformedContent.
	Resolve(ctx context.Context, descriptor string) (*Content, error)
}

type resolver struct {
	httpClient adapter.HTTPClient
	json       adapter.JSON
	base64     adapter.Base64
	config     Config
}

// NewResolver creates a content resolver. Empty gateway lists fall back to the default gateways.
func NewResolver(httpClient adapter.HTTPClient, json adapter.JSON, base64 adapter.Base64, cfg Config) ContentResolver {
	return &resolver{
		httpClient: httpClient,
		json:       json,
		base64:     base64,
		config: Config{
			IPFSGateways:    gatewaysOrDefault(cfg.IPFSGateways, domain.DEFAULT_IPFS_GATEWAY),
			ArweaveGateways: gatewaysOrDefault(cfg.ArweaveGateways, domain.DEFAULT_ARWEAVE_GATEWAY),
		},
	}
}

func gatewaysOrDefault(gateways []string, fallback string) []string {
	out := make([]string, 0, len(gateways))
	for _, gw := range gateways {
		if gw = strings.TrimRight(strings.TrimSpace(gw), "/"); gw != "" {
			out = append(out, gw)
		}
	}
	if len(out) == 0 {
		out = append(out, fallback)
	}
	return out
}

func (r *resolver) Resolve(ctx context.Context, descriptor string) (*Content, error) {
	uri := normalizeDescriptor(descriptor)
	if uri == "" {
		return nil, fmt.Errorf("%w: empty descriptor", domain.ErrMalformedContent)
	}

	var (
		metadata map[string]interface{}
		err      error
	)
	switch {
	case strings.HasPrefix(uri, "data:"):
		metadata, err = r.parseDataURI(uri)
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(uri, "ipfs://")
		metadata, err = r.fetchFromGateways(ctx, r.ipfsURLs(path))
	case strings.HasPrefix(uri, "ar://"):
		txID := strings.TrimPrefix(uri, "ar://")
		metadata, err = r.fetchFromGateways(ctx, r.arweaveURLs(txID))
	case strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://"):
		metadata, err = r.fetchFromHTTP(ctx, uri)
	default:
		return nil, fmt.Errorf("%w: unsupported URI scheme: %s", domain.ErrMalformedContent, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", uri, err)
	}

	return r.normalize(metadata), nil
}

// normalizeDescriptor trims the descriptor and routes HTTP gateway links
// through ipfs:// so the configured gateways are used
func normalizeDescriptor(descriptor string) string {
	uri := strings.TrimSpace(descriptor)
	if strings.HasPrefix(uri, "http") && strings.Contains(uri, "/ipfs/") {
		parts := strings.SplitN(uri, "/ipfs/", 2)
		if parts[1] != "" {
			uri = "ipfs://" + parts[1]
		}
	}
	if after, ok := strings.CutPrefix(uri, "ipfs://ipfs/"); ok {
		uri = "ipfs://" + after
	}
	return uri
}

// parseDataURI decodes data:[<mediatype>][;base64],<data>
func (r *resolver) parseDataURI(uri string) (map[string]interface{}, error) {
	parts := strings.SplitN(strings.TrimPrefix(uri, "data:"), ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: invalid data URI format", domain.ErrMalformedContent)
	}

	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(parts[0], ";base64") {
		data, err = r.base64.Decode(parts[1])
	} else {
		data, err = r.base64.PercentDecode(parts[1])
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode data URI: %v", domain.ErrMalformedContent, err)
	}

	return r.decode(data)
}

// fetchFromGateways tries every gateway URL in parallel and returns the first decoded document
func (r *resolver) fetchFromGateways(ctx context.Context, urls []string) (map[string]interface{}, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		metadata map[string]interface{}
		err      error
	}

	results := make(chan result, len(urls))
	for _, url := range urls {
		go func(url string) {
			metadata, err := r.fetchFromHTTP(ctx, url)
			results <- result{metadata: metadata, err: err}
		}(url)
	}

	errs := make([]error, 0, len(urls))
	for range urls {
		res := <-results
		if res.err == nil {
			return res.metadata, nil
		}
		errs = append(errs, res.err)
	}

	return nil, summarize(errs)
}

// fetchFromHTTP fetches and decodes a metadata document from an HTTP(S) URL
func (r *resolver) fetchFromHTTP(ctx context.Context, url string) (map[string]interface{}, error) {
	body, err := r.httpClient.GetBytes(ctx, url)
	if err != nil {
		logger.DebugCtx(ctx, "Content fetch failed", zap.String("url", url), zap.Error(err))
		return nil, classify(err)
	}
	return r.decode(body)
}

func (r *resolver) decode(data []byte) (map[string]interface{}, error) {
	var metadata map[string]interface{}
	if err := r.json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", domain.ErrMalformedContent, err)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata is not an object", domain.ErrMalformedContent)
	}
	return metadata, nil
}

// normalize maps a metadata document to display content with fallbacks
func (r *resolver) normalize(metadata map[string]interface{}) *Content {
	content := &Content{Name: domain.DEFAULT_ITEM_NAME}

	if n, ok := metadata["name"].(string); ok && strings.TrimSpace(n) != "" {
		content.Name = n
	}
	if d, ok := metadata["description"].(string); ok {
		content.Description = d
	}

	image, _ := metadata["image"].(string)
	if image == "" {
		image, _ = metadata["image_url"].(string)
	}
	content.Image = r.toGateway(image)

	return content
}

// toGateway converts a storage locator to an HTTP URL on the first configured gateway
func (r *resolver) toGateway(uri string) string {
	uri = normalizeDescriptor(uri)
	if after, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		return r.ipfsURLs(after)[0]
	}
	if after, ok := strings.CutPrefix(uri, "ar://"); ok {
		return r.arweaveURLs(after)[0]
	}
	return uri
}

func (r *resolver) ipfsURLs(path string) []string {
	urls := make([]string, 0, len(r.config.IPFSGateways))
	for _, gw := range r.config.IPFSGateways {
		urls = append(urls, fmt.Sprintf("%s/ipfs/%s", gw, path))
	}
	return urls
}

func (r *resolver) arweaveURLs(txID string) []string {
	urls := make([]string, 0, len(r.config.ArweaveGateways))
	for _, gw := range r.config.ArweaveGateways {
		urls = append(urls, fmt.Sprintf("%s/%s", gw, txID))
	}
	return urls
}

// classify maps a transport error to a resolver sentinel
func classify(err error) error {
	switch code := adapter.StatusCodeOf(err); {
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}
}

// summarize reduces per-gateway failures to one error. Malformed content wins,
// then not-found when every gateway agreed, otherwise the content is unreachable.
func summarize(errs []error) error {
	notFound := 0
	for _, err := range errs {
		if errors.Is(err, domain.ErrMalformedContent) {
			return err
		}
		if errors.Is(err, domain.ErrNotFound) {
			notFound++
		}
	}
	if notFound == len(errs) && notFound > 0 {
		return fmt.Errorf("%w: not found on any of %d gateways", domain.ErrNotFound, len(errs))
	}
	return fmt.Errorf("%w: all %d gateways failed: %w", domain.ErrUnreachable, len(errs), errors.Join(errs...))
}
