package imagestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var ErrUnsupportedURL = errors.New("unsupported image url")

// ImageStore 车牌照片存储，只按 URL 引用
type ImageStore interface {
	DeleteByURL(ctx context.Context, rawURL string) error
}

// ObjectRef bucket + object name
type ObjectRef struct {
	Bucket string
	Object string
}

// ParseObjectURL 支持三种写法：
//
//	gs://bucket/path/to/obj
//	https://storage.googleapis.com/bucket/path/to/obj
//	https://firebasestorage.googleapis.com/v0/b/bucket/o/path%2Fto%2Fobj?alt=media&token=...
func ParseObjectURL(rawURL string) (ObjectRef, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ObjectRef{}, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}

	var ref ObjectRef
	switch {
	case u.Scheme == "gs":
		ref = ObjectRef{Bucket: u.Host, Object: strings.TrimPrefix(u.Path, "/")}

	case u.Host == "storage.googleapis.com":
		bucket, object, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		ref = ObjectRef{Bucket: bucket, Object: object}

	case u.Host == "firebasestorage.googleapis.com":
		// u.Path 已解码，object 中的 %2F 会变成 /
		rest, ok := strings.CutPrefix(u.Path, "/v0/b/")
		if !ok {
			return ObjectRef{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
		}
		bucket, object, _ := strings.Cut(rest, "/o/")
		ref = ObjectRef{Bucket: bucket, Object: object}

	default:
		return ObjectRef{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}

	if ref.Bucket == "" || ref.Object == "" {
		return ObjectRef{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
	return ref, nil
}

type GCSStore struct {
	client *storage.Client
}

// NewGCSStore credentialsFile 为空时使用 ADC
func NewGCSStore(ctx context.Context, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

func (s *GCSStore) DeleteByURL(ctx context.Context, rawURL string) error {
	ref, err := ParseObjectURL(rawURL)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(ref.Bucket).Object(ref.Object).Delete(ctx); err != nil {
		return fmt.Errorf("delete gs://%s/%s: %w", ref.Bucket, ref.Object, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Nop 未启用图片存储时使用
type Nop struct{}

func (Nop) DeleteByURL(context.Context, string) error { return nil }
