package uploader

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/luhtaf/blobseen/internal/blobid"
	"github.com/luhtaf/blobseen/internal/meta"
)

type Uploader struct {
	cli    *minio.Client
	bucket string
	prefix string
}

func New(endpoint, ak, sk, bucket, prefix string, useSSL bool) (*Uploader, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(ak, sk, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Uploader{cli: cli, bucket: bucket, prefix: prefix}, nil
}

func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.cli.BucketExists(ctx, u.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return u.cli.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// ObjectKey fans blobs out by their leading byte: prefix/ab/abcdef...
func (u *Uploader) ObjectKey(id blobid.ID) string {
	return path.Join(u.prefix, fmt.Sprintf("%02x", id.PartitionKey()), id.String())
}

func (u *Uploader) Upload(ctx context.Context, bm meta.BlobMeta) (string, error) {
	key := u.ObjectKey(bm.ID)
	putOpts := minio.PutObjectOptions{
		ContentType: bm.MIME,
		UserMetadata: map[string]string{
			"x-amz-meta-blob_id": bm.ID.String(),
			"x-amz-meta-name":    path.Base(bm.Name),
			"x-amz-meta-size":    strconv.FormatInt(bm.Size, 10),
			"x-amz-meta-mtime":   bm.ModTime.UTC().Format(time.RFC3339),
		},
		// tags for quick filtering
		UserTags: map[string]string{
			"blob_id": bm.ID.String(),
			"mime":    bm.MIME,
		},
	}
	if _, err := u.cli.FPutObject(ctx, u.bucket, key, bm.Path, putOpts); err != nil {
		return "", err
	}
	return key, nil
}
