package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type recordingPutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (p *recordingPutter) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	p.input = input
	b, _ := io.ReadAll(input.Body)
	p.body = string(b)
	if p.err != nil {
		return nil, p.err
	}
	return &manager.UploadOutput{}, nil
}

func TestUploadWritesEncryptedObject(t *testing.T) {
	putter := &recordingPutter{}
	s := &S3Storage{uploader: putter, bucket: "settlements"}

	loc, err := s.Upload(context.Background(), "/2024/09/02/batch.csv", strings.NewReader("a,b\n"), "text/csv")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if loc != "s3://settlements/2024/09/02/batch.csv" {
		t.Fatalf("unexpected location %q", loc)
	}
	if aws.ToString(putter.input.Key) != "2024/09/02/batch.csv" || aws.ToString(putter.input.ContentType) != "text/csv" {
		t.Fatalf("unexpected input %+v", putter.input)
	}
	if putter.input.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected server-side encryption")
	}
	if putter.body != "a,b\n" {
		t.Fatalf("unexpected body %q", putter.body)
	}
}

func TestUploadRejectsEmptyKeyAndWrapsErrors(t *testing.T) {
	boom := errors.New("access denied")
	s := &S3Storage{uploader: &recordingPutter{err: boom}, bucket: "settlements"}

	if _, err := s.Upload(context.Background(), " / ", strings.NewReader(""), ""); err == nil {
		t.Fatal("expected empty key error")
	}
	if _, err := s.Upload(context.Background(), "k.csv", strings.NewReader("x"), ""); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped upload error, got %v", err)
	}
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	if _, err := NewS3Storage(context.Background(), S3Config{Region: "us-east-1"}); err == nil {
		t.Fatal("expected bucket to be required")
	}
}
