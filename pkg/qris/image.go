package qris

import (
	"context"
	"fmt"

	"wifi-voucher/pkg/minio"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/fx"
)

var Module = fx.Module("qris",
	fx.Provide(NewImagePublisher),
)

// RenderPNG encodes the payload into a scannable PNG image.
func RenderPNG(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// ImagePublisher renders a payload and stores the image, returning a URL the
// payer can open.
type ImagePublisher struct {
	uploader minio.Uploader
}

func NewImagePublisher(uploader minio.Uploader) *ImagePublisher {
	return &ImagePublisher{uploader: uploader}
}

func (p *ImagePublisher) Publish(ctx context.Context, name, payload string) (string, error) {
	png, err := RenderPNG(payload)
	if err != nil {
		return "", err
	}
	return p.uploader.UploadPNG(ctx, fmt.Sprintf("qr/%s.png", name), png)
}
