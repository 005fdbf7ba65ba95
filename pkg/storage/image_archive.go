package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const defaultPresignTTL = 24 * time.Hour

// ImageArchive keeps generated images in object storage and hands out
// presigned links to them.
type ImageArchive struct {
	store      ObjectStore
	presignTTL time.Duration
}

func NewImageArchive(store ObjectStore, presignTTL time.Duration) (*ImageArchive, error) {
	if store == nil {
		return nil, errors.New("image archive requires an object store")
	}
	if presignTTL <= 0 {
		presignTTL = defaultPresignTTL
	}
	return &ImageArchive{store: store, presignTTL: presignTTL}, nil
}

// Save uploads base64 image data under generated/{assistantID}/{uuid}.{ext}
// and returns the key and a presigned URL.
func (a *ImageArchive) Save(ctx context.Context, assistantID int64, mimeType, data string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", "", fmt.Errorf("decode image: %w", err)
	}
	key := "generated/" + strconv.FormatInt(assistantID, 10) + "/" + uuid.NewString() + "." + imageExt(mimeType)
	if err := a.store.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), mimeType); err != nil {
		return "", "", err
	}
	url, err := a.store.PresignGet(ctx, key, a.presignTTL)
	if err != nil {
		return key, "", err
	}
	return key, url, nil
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
