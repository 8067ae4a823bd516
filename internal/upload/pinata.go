package upload

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
)

const (
	pinFilePath = "/pinning/pinFileToIPFS"
	pinJSONPath = "/pinning/pinJSONToIPFS"
)

// Request is an image with its display metadata
type Request struct {
	Name        string
	Description string
	Filename    string
	Image       []byte
}

// Uploader pins content to IPFS and returns the token descriptor
//
//go:generate mockgen -source=pinata.go -destination=../mocks/uploader.go -package=mocks -mock_names=Uploader=MockUploader
type Uploader interface {
	// Upload pins the image and a metadata document referencing it, and returns ipfs://<metadataCID>
	Upload(ctx context.Context, req Request) (string, error)
}

// Config holds the Pinata credentials and limits
type Config struct {
	APIURL       string
	APIKey       string
	APISecret    string
	MaxImageSize int64
}

type pinataUploader struct {
	httpClient adapter.HTTPClient
	json       adapter.JSON
	jcs        adapter.JCS
	config     Config
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

type metadataDocument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// NewPinataUploader creates an uploader backed by the Pinata pinning API
func NewPinataUploader(httpClient adapter.HTTPClient, json adapter.JSON, jcs adapter.JCS, cfg Config) Uploader {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &pinataUploader{
		httpClient: httpClient,
		json:       json,
		jcs:        jcs,
		config:     cfg,
	}
}

func (u *pinataUploader) Upload(ctx context.Context, req Request) (string, error) {
	mime, err := u.validate(req)
	if err != nil {
		return "", err
	}

	imageCID, err := u.pinFile(ctx, req, mime)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("stage", "image"))
		return "", fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}

	metadataCID, err := u.pinJSON(ctx, metadataDocument{
		Name:        req.Name,
		Description: req.Description,
		Image:       "ipfs://" + imageCID,
	})
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("stage", "metadata"))
		return "", fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}

	logger.InfoCtx(ctx, "Content pinned",
		zap.String("image", imageCID),
		zap.String("metadata", metadataCID),
		zap.String("mime", mime.String()))

	return "ipfs://" + metadataCID, nil
}

// validate rejects incomplete requests before any network call
func (u *pinataUploader) validate(req Request) (*mimetype.MIME, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: no image uploaded", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: missing name or description", domain.ErrInvalidInput)
	}
	if u.config.MaxImageSize > 0 && int64(len(req.Image)) > u.config.MaxImageSize {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrInvalidInput, u.config.MaxImageSize)
	}

	mime := mimetype.Detect(req.Image)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, fmt.Errorf("%w: unsupported content type %s", domain.ErrInvalidInput, mime.String())
	}
	return mime, nil
}

func (u *pinataUploader) pinFile(ctx context.Context, req Request, mime *mimetype.MIME) (string, error) {
	filename := req.Filename
	if filename == "" {
		filename = "image" + mime.Extension()
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mime.String())
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return u.pin(ctx, pinFilePath, w.FormDataContentType(), body.Bytes())
}

func (u *pinataUploader) pinJSON(ctx context.Context, doc metadataDocument) (string, error) {
	raw, err := u.json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	canonical, err := u.jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize metadata: %w", err)
	}
	return u.pin(ctx, pinJSONPath, "application/json", canonical)
}

func (u *pinataUploader) pin(ctx context.Context, path string, contentType string, body []byte) (string, error) {
	headers := map[string]string{
		"pinata_api_key":        u.config.APIKey,
		"pinata_secret_api_key": u.config.APISecret,
	}

	respBody, err := u.httpClient.Post(ctx, u.config.APIURL+path, headers, contentType, body)
	if err != nil {
		return "", fmt.Errorf("pinata request to %s failed: %w", path, err)
	}

	var resp pinResponse
	if err := u.json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to decode pinata response: %w", err)
	}
	if resp.IpfsHash == "" {
		return "", fmt.Errorf("pinata response from %s has no IpfsHash", path)
	}
	return resp.IpfsHash, nil
}
