package goarc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Endpoint returns the LocalStack endpoint if configured, or skips the test.
func s3Endpoint(t *testing.T) string {
	t.Helper()
	ep := os.Getenv("GOARC_TEST_S3_ENDPOINT")
	if ep == "" {
		t.Skip("GOARC_TEST_S3_ENDPOINT not set; skipping S3 integration test")
	}
	return ep
}

// configureS3Env points the AWS SDK and the store at LocalStack.
func configureS3Env(t *testing.T, endpoint string) {
	t.Helper()
	t.Setenv("AWS_ENDPOINT_URL", endpoint)
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("GOARC_S3_SSE", "none")
	t.Setenv("GOARC_S3_USE_PATH_STYLE", "true")
}

// setupS3Bucket creates a temporary bucket on LocalStack and deletes it,
// and everything in it, when the test finishes.
func setupS3Bucket(t *testing.T, ctx context.Context, endpoint string) (*awss3.Client, string) {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
			})),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	bucket := fmt.Sprintf("goarc-test-%d", os.Getpid())
	_, err = client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		t.Fatalf("create bucket %s: %v", bucket, err)
	}

	t.Cleanup(func() {
		list, _ := client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		if list != nil {
			for _, obj := range list.Contents {
				_, _ = client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(bucket)})
	})
	return client, bucket
}

func TestS3ArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	ep := s3Endpoint(t)
	configureS3Env(t, ep)
	client, bucket := setupS3Bucket(t, ctx, ep)

	src := buildSourceTree(t)
	uri := fmt.Sprintf("s3://%s/archives/tree.tar.gz", bucket)

	if err := Compress(ctx, src, uri, FormatTarGzip, CompressFlags{Logger: discardLogger()}); err != nil {
		t.Fatalf("Compress to S3: %v", err)
	}

	head, err := client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String("archives/tree.tar.gz"),
	})
	if err != nil {
		t.Fatalf("uploaded object missing: %v", err)
	}
	if head.ContentLength == nil || *head.ContentLength == 0 {
		t.Fatal("uploaded object is empty")
	}

	if !IsSupportedArchive(uri) {
		t.Error("IsSupportedArchive on the uploaded object = false")
	}
	if status, err := CheckEncryption(uri); err != nil || status != EncryptionNone {
		t.Errorf("CheckEncryption = %v, %v", status, err)
	}

	dest := t.TempDir()
	if err := Extract(ctx, uri, dest, ExtractFlags{Logger: discardLogger()}); err != nil {
		t.Fatalf("Extract from S3: %v", err)
	}
	compareTrees(t, dest)

	// The same object addressed by ARN.
	arnDest := t.TempDir()
	arn := fmt.Sprintf("arn:aws:s3:::%s/archives/tree.tar.gz", bucket)
	if err := Extract(ctx, arn, arnDest, ExtractFlags{Logger: discardLogger()}); err != nil {
		t.Fatalf("Extract via ARN: %v", err)
	}
	compareTrees(t, arnDest)
}

// 7z writes its metadata after the data, spooling locally before the
// upload starts; make sure that path works against a real endpoint too.
func TestS3SevenZipRoundTrip(t *testing.T) {
	ctx := context.Background()
	ep := s3Endpoint(t)
	configureS3Env(t, ep)
	_, bucket := setupS3Bucket(t, ctx, ep)

	src := buildSourceTree(t)
	uri := fmt.Sprintf("s3://%s/archives/tree.7z", bucket)
	if err := Compress(ctx, src, uri, FormatSevenZip, CompressFlags{Logger: discardLogger()}); err != nil {
		t.Fatalf("Compress to S3: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(ctx, uri, dest, ExtractFlags{Logger: discardLogger()}); err != nil {
		t.Fatalf("Extract from S3: %v", err)
	}
	compareTrees(t, dest)
}

func TestS3UploadMetadataFromQuery(t *testing.T) {
	ctx := context.Background()
	ep := s3Endpoint(t)
	configureS3Env(t, ep)
	client, bucket := setupS3Bucket(t, ctx, ep)

	src := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(src, []byte("metadata carrier"), 0o644); err != nil {
		t.Fatal(err)
	}
	uri := fmt.Sprintf("s3://%s/archives/report.txt.gz?team=infra&ticket=4211", bucket)
	if err := Compress(ctx, src, uri, FormatGzip, CompressFlags{Logger: discardLogger()}); err != nil {
		t.Fatalf("Compress to S3: %v", err)
	}

	head, err := client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String("archives/report.txt.gz"),
	})
	if err != nil {
		t.Fatalf("uploaded object missing: %v", err)
	}
	if got := head.Metadata["team"]; got != "infra" {
		t.Errorf("metadata team = %q, want infra", got)
	}
	if got := head.Metadata["ticket"]; got != "4211" {
		t.Errorf("metadata ticket = %q, want 4211", got)
	}
}
