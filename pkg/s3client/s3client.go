package s3client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"smartroute/pkg/trade"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	log "github.com/sirupsen/logrus"
)

// Init creates an S3 client from static credentials.
func Init(awsAccessKey, awsSecretKey, region string) (*s3.S3, error) {
	if awsAccessKey == "" || awsSecretKey == "" {
		return nil, fmt.Errorf("AWS_ACCESS_KEY and AWS_SECRET_KEY must be set")
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(awsAccessKey, awsSecretKey, ""),
		Region:      aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("fail to create aws session: %w", err)
	}
	return s3.New(sess), nil
}

// GetObject retrieves an object from S3
func GetObject(ctx context.Context, s3Client s3iface.S3API, bucket, key string) ([]byte, error) {
	result, err := s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}

func UploadObject(ctx context.Context, s3Client s3iface.S3API, bucket, key string, body []byte) error {
	_, err := s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	return err
}

// Journal archives trade reports as JSON objects under
// <prefix>/<yyyy>/<mm>/<dd>/<report id>.json.
type Journal struct {
	client s3iface.S3API
	bucket string
	prefix string
}

func NewJournal(client s3iface.S3API, bucket, prefix string) *Journal {
	return &Journal{client: client, bucket: bucket, prefix: prefix}
}

func (j *Journal) Key(r *trade.Report) string {
	return path.Join(j.prefix, r.Time.UTC().Format("2006/01/02"), r.Id+".json")
}

func (j *Journal) Record(ctx context.Context, r *trade.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("fail to encode report: %w", err)
	}
	key := j.Key(r)
	if err := UploadObject(ctx, j.client, j.bucket, key, body); err != nil {
		return fmt.Errorf("fail to upload %s: %w", key, err)
	}
	log.WithFields(log.Fields{"bucket": j.bucket, "key": key}).Debug("trade journaled")
	return nil
}

// Load reads back a journaled report.
func (j *Journal) Load(ctx context.Context, key string) (*trade.Report, error) {
	body, err := GetObject(ctx, j.client, j.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fail to download %s: %w", key, err)
	}
	var r trade.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("fail to decode %s: %w", key, err)
	}
	return &r, nil
}
