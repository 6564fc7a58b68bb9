package s3client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"smartroute/pkg/trade"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/shopspring/decimal"
)

type memS3 struct {
	s3iface.S3API
	objects map[string][]byte
	putErr  error
}

func (m *memS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestJournalRoundTrip(t *testing.T) {
	store := &memS3{objects: map[string][]byte{}}
	j := NewJournal(store, "trades", "smartroute")
	report := &trade.Report{
		Id:        "a1b2",
		Time:      time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC),
		SellAsset: "ETH",
		BuyAsset:  "ADA",
		Bridge:    "BTC",
		Sale:      trade.Leg{Market: "ETHBTC", Quantity: decimal.RequireFromString("1.5")},
	}

	key := j.Key(report)
	if key != "smartroute/2024/03/09/a1b2.json" {
		t.Errorf("key = %s", key)
	}
	if err := j.Record(context.Background(), report); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := j.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Id != report.Id || got.Sale.Market != "ETHBTC" || !got.Sale.Quantity.Equal(report.Sale.Quantity) {
		t.Errorf("loaded report differs: %+v", got)
	}
}

func TestJournalUploadError(t *testing.T) {
	store := &memS3{objects: map[string][]byte{}, putErr: errors.New("AccessDenied")}
	j := NewJournal(store, "trades", "")
	err := j.Record(context.Background(), &trade.Report{Id: "x", Time: time.Now()})
	if err == nil {
		t.Fatal("expected upload error")
	}
}

func TestInitRequiresCredentials(t *testing.T) {
	if _, err := Init("", "secret", "ap-southeast-1"); err == nil {
		t.Error("expected missing credential error")
	}
}
