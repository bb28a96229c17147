package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"wifi-voucher/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("minio.client",
	fx.Provide(registerClient, NewUploader),
)

func registerClient(c *config.Config) *minio.Client {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Fatal("failed to create MinIO client", zap.Error(err))
	}
	exists, errBucketExists := client.BucketExists(context.Background(), c.Minio.BucketName)
	if errBucketExists != nil {
		zap.L().Fatal("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(errBucketExists))
	}
	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.Bool("bucketExists", exists))
	return client
}

// Uploader stores rendered payment images and hands back a retrievable URL.
type Uploader interface {
	UploadPNG(ctx context.Context, name string, data []byte) (string, error)
}

type uploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewUploader(client *minio.Client, cfg *config.Config) Uploader {
	return &uploader{
		client:    client,
		bucket:    cfg.Minio.BucketName,
		publicURL: strings.TrimRight(cfg.Minio.PublicURL, "/"),
	}
}

func (u *uploader) UploadPNG(ctx context.Context, name string, data []byte) (string, error) {
	_, err := u.client.PutObject(ctx, u.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	if u.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", u.publicURL, u.bucket, name), nil
	}

	signed, err := u.client.PresignedGetObject(ctx, u.bucket, name, 24*time.Hour, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", name, err)
	}
	return signed.String(), nil
}
