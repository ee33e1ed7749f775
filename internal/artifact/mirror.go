package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/dsj7419/qa-doc-convert/internal/log"
)

// AzureOptions configures an AzureMirror.
type AzureOptions struct {
	ConnectionString string
	Container        string
	// Prefix is prepended to every blob key.
	Prefix string
}

// AzureMirror uploads published models to Azure Blob Storage under
// <prefix>/<run_id>/<file>.
type AzureMirror struct {
	client    *azblob.Client
	container string
	prefix    string
	logger    *slog.Logger
}

var _ Mirror = (*AzureMirror)(nil)

// NewAzureMirror validates the connection string and creates the client. No
// request is made until EnsureContainer or Upload.
func NewAzureMirror(opts AzureOptions) (*AzureMirror, error) {
	if opts.Container == "" {
		return nil, errors.New("azure mirror: container is required")
	}
	client, err := azblob.NewClientFromConnectionString(opts.ConnectionString, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: 3},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &AzureMirror{
		client:    client,
		container: opts.Container,
		prefix:    strings.Trim(opts.Prefix, "/"),
		logger:    log.WithComponent("mirror"),
	}, nil
}

// EnsureContainer creates the container if it does not exist yet.
func (m *AzureMirror) EnsureContainer(ctx context.Context) error {
	_, err := m.client.CreateContainer(ctx, m.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", m.container, describe(err))
	}
	m.logger.Info("mirror container ready", "container", m.container)
	return nil
}

// Upload streams each named file under dir to the container.
func (m *AzureMirror) Upload(ctx context.Context, runID, dir string, files []string) error {
	for _, name := range files {
		key, err := blobKey(m.prefix, runID, name)
		if err != nil {
			return err
		}
		if err := m.uploadFile(ctx, key, filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			return err
		}
	}
	m.logger.Info("model mirrored", "run_id", runID, "container", m.container, "files", len(files))
	return nil
}

func (m *AzureMirror) uploadFile(ctx context.Context, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(src))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	}
	if _, err := m.client.UploadStream(ctx, m.container, key, f, opts); err != nil {
		return fmt.Errorf("upload blob %s: %w", key, describe(err))
	}
	return nil
}

// blobKey joins the key parts, rejecting traversal.
func blobKey(prefix, runID, name string) (string, error) {
	if runID == "" || name == "" {
		return "", errors.New("blob key needs a run id and a file name")
	}
	for _, part := range []string{prefix, runID, name} {
		if strings.Contains(part, "..") {
			return "", fmt.Errorf("invalid blob key component %q", part)
		}
	}
	return path.Join(prefix, runID, name), nil
}

// describe adds the HTTP status to Azure errors.
func describe(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("%s (HTTP %d): %w", respErr.ErrorCode, respErr.StatusCode, err)
	}
	return err
}
