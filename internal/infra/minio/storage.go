package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/framecast/compilation-service/internal/domain/port"
)

// Storage keeps frames and compiled artifacts in two buckets. Frame objects
// live at {requestId}/frame_{frameNumber:06d}.{ext}, artifacts at
// {requestId}/compiled_video.{ext}.
type Storage struct {
	client       *miniogo.Client
	framesBucket string
	videosBucket string
	frameFormat  string
}

type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	FramesBucket string
	VideosBucket string
	FrameFormat  string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	frameFormat := cfg.FrameFormat
	if frameFormat == "" {
		frameFormat = "jpg"
	}

	return &Storage{
		client:       client,
		framesBucket: cfg.FramesBucket,
		videosBucket: cfg.VideosBucket,
		frameFormat:  frameFormat,
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.framesBucket, s.videosBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *Storage) PutFrame(ctx context.Context, requestID string, frameNumber int, r io.Reader, size int64) (string, error) {
	key := frameKey(requestID, frameNumber, s.frameFormat)
	_, err := s.client.PutObject(ctx, s.framesBucket, key, r, size, miniogo.PutObjectOptions{
		ContentType: frameContentType(s.frameFormat),
	})
	if err != nil {
		return "", fmt.Errorf("put frame %s: %w", key, err)
	}
	return key, nil
}

func (s *Storage) FrameExists(ctx context.Context, requestID string, frameNumber int) (bool, error) {
	key := frameKey(requestID, frameNumber, s.frameFormat)
	_, err := s.client.StatObject(ctx, s.framesBucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		resp := miniogo.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat frame %s: %w", key, err)
	}
	return true, nil
}

func (s *Storage) DownloadFrame(ctx context.Context, requestID string, frameNumber int, destPath string) error {
	key := frameKey(requestID, frameNumber, s.frameFormat)
	if err := s.client.FGetObject(ctx, s.framesBucket, key, destPath, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download frame %s: %w", key, err)
	}
	return nil
}

func (s *Storage) UploadVideo(ctx context.Context, requestID, format, srcPath string) (string, error) {
	key := videoKey(requestID, format)
	_, err := s.client.FPutObject(ctx, s.videosBucket, key, srcPath, miniogo.PutObjectOptions{
		ContentType: "video/" + format,
		UserMetadata: map[string]string{
			"X-Request-ID": requestID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload video %s: %w", key, err)
	}
	return key, nil
}

func (s *Storage) PresignedVideoURL(ctx context.Context, requestID, format string, ttl time.Duration) (string, error) {
	key := videoKey(requestID, format)
	u, err := s.client.PresignedGetObject(ctx, s.videosBucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign video %s: %w", key, err)
	}
	return u.String(), nil
}

func frameKey(requestID string, frameNumber int, ext string) string {
	return fmt.Sprintf("%s/frame_%06d.%s", requestID, frameNumber, ext)
}

func videoKey(requestID, format string) string {
	return fmt.Sprintf("%s/compiled_video.%s", requestID, format)
}

func frameContentType(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

var _ port.FrameStore = (*Storage)(nil)
