// Package state stores deployment metadata next to the Pulumi state in S3
package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrNoMetadata is returned when a stack has never been deployed
var ErrNoMetadata = errors.New("no deployment metadata")

// ObjectAPI is the subset of the S3 client the store needs
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps one metadata document per project and stack
type S3Store struct {
	client      ObjectAPI
	bucketName  string
	projectName string
	stackName   string
}

// NewS3Store creates a store for the given project and stack
func NewS3Store(client ObjectAPI, bucketName, projectName, stackName string) *S3Store {
	return &S3Store{
		client:      client,
		bucketName:  bucketName,
		projectName: projectName,
		stackName:   stackName,
	}
}

// Bucket returns the bucket the store writes to
func (s *S3Store) Bucket() string {
	return s.bucketName
}

func (s *S3Store) metadataKey() string {
	return fmt.Sprintf("deployments/%s/%s/metadata.json", s.projectName, s.stackName)
}

func (s *S3Store) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNoMetadata
		}
		return nil, err
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
