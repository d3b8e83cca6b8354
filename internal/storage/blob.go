// Package storage は書類ファイルを保存するブロブストアを提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrObjectNotFound はオブジェクトが存在しないことを示す。
var ErrObjectNotFound = errors.New("storage: object not found")

// ErrInvalidURL は当ストアが発行した形式でないURLを示す。
var ErrInvalidURL = errors.New("storage: invalid object url")

// ErrObjectExists は書き込み先に既にオブジェクトが存在することを示す。
var ErrObjectExists = errors.New("storage: object already exists")

// ErrNotConfigured はブロブストアが設定されていないことを示す。
var ErrNotConfigured = errors.New("storage: blob store is not configured")

const urlScheme = "gs"

// BlobStore はオブジェクトの保存と取得を行う。
// Putは保存先を表すURLを返し、Getはそれを受け取る。
// 既存のパスへのPutはErrObjectExistsを返す。
type BlobStore interface {
	Put(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, objectURL string) (io.ReadCloser, error)
}

// GCSConfig はGoogle Cloud Storageへの接続設定。
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	// Endpoint はエミュレータ等の接続先。空の場合は本番のGCSを使う。
	Endpoint string
}

// GCSBlobStore はGoogle Cloud Storage上のBlobStore実装。
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobStore はGCSクライアントを生成する。
func NewGCSBlobStore(ctx context.Context, cfg GCSConfig) (*GCSBlobStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts,
			option.WithEndpoint(strings.TrimRight(cfg.Endpoint, "/")+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: cfg.Bucket}, nil
}

// Close はクライアントを閉じる。
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}

// Put はオブジェクトを新規に書き込み、gs://<bucket>/<path> 形式のURLを返す。
// 同じパスのオブジェクトが既にある場合は書き込まずにErrObjectExistsを返す。
func (s *GCSBlobStore) Put(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error) {
	objectPath = strings.TrimPrefix(objectPath, "/")
	if objectPath == "" {
		return "", errors.New("storage: object path is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(objectPath).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("%w: %s", ErrObjectExists, objectPath)
		}
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("%w: %s", ErrObjectExists, objectPath)
		}
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return ObjectURL(s.bucket, objectPath), nil
}

// Get はURLが指すオブジェクトのリーダーを返す。呼び出し元が閉じる。
func (s *GCSBlobStore) Get(ctx context.Context, objectURL string) (io.ReadCloser, error) {
	bucket, objectPath, err := ParseObjectURL(objectURL)
	if err != nil {
		return nil, err
	}
	if bucket != s.bucket {
		return nil, fmt.Errorf("%w: unexpected bucket %q", ErrInvalidURL, bucket)
	}

	rc, err := s.client.Bucket(bucket).Object(objectPath).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %q: %w", objectPath, err)
	}
	return rc, nil
}

// isPreconditionFailed はGCSが書き込み条件の不成立（412）を返したかどうかを返す。
func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// ObjectURL はバケットとパスからURLを組み立てる。
func ObjectURL(bucket, objectPath string) string {
	return urlScheme + "://" + bucket + "/" + strings.TrimPrefix(objectPath, "/")
}

// ParseObjectURL はURLをバケット名とオブジェクトパスに分解する。
// ディレクトリ移動を含むパスは拒否する。
func ParseObjectURL(objectURL string) (string, string, error) {
	u, err := url.Parse(objectURL)
	if err != nil || u.Scheme != urlScheme || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, objectURL)
	}
	p := strings.TrimPrefix(u.Path, "/")
	if p == "" || path.Clean("/"+p) != "/"+p {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, objectURL)
	}
	return u.Host, p, nil
}

// DocumentPath は書類ファイルの保存パス <owner>/<document>/v<version>/<file> を返す。
// ファイル名はベース名のみを使う。
func DocumentPath(ownerID, documentID string, version int, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s/%s/v%d/%s", ownerID, documentID, version, name)
}

// Unconfigured はGCS_BUCKET未設定時に使うBlobStore。常にErrNotConfiguredを返す。
type Unconfigured struct{}

func (Unconfigured) Put(context.Context, string, io.Reader, string) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, ErrNotConfigured
}

var (
	_ BlobStore = (*GCSBlobStore)(nil)
	_ BlobStore = Unconfigured{}
)
