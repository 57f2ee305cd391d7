package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"

	gs3 "gamerent/pkg/s3"
	"gamerent/services/rentals"
)

const (
	defaultURLTTL = 15 * time.Minute
	maxURLTTL     = 24 * time.Hour
)

// Source lists the payments to export. *rentals.Service satisfies it.
type Source interface {
	ListPayments(ctx context.Context) (rentals.PaymentList, error)
}

// ObjectStore uploads exports and signs download links. *s3.Client satisfies it.
type ObjectStore interface {
	PutObject(ctx context.Context, in gs3.PutInput) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Result describes one uploaded export.
type Result struct {
	Key         string          `json:"key"`
	URL         string          `json:"url"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	Count       int             `json:"totalPayments"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	SHA256      string          `json:"sha256"`
}

// Exporter writes the payment ledger to object storage as gzipped CSV.
type Exporter struct {
	src    Source
	store  ObjectStore
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

// NewExporter configures an Exporter. A zero ttl uses fifteen minutes.
func NewExporter(src Source, store ObjectStore, bucket string, ttl time.Duration) (*Exporter, error) {
	bucket = strings.TrimSpace(bucket)
	if src == nil {
		return nil, errors.New("payment source is required")
	}
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if ttl <= 0 {
		ttl = defaultURLTTL
	}
	if ttl > maxURLTTL {
		ttl = maxURLTTL
	}
	return &Exporter{
		src:    src,
		store:  store,
		bucket: bucket,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Export uploads every payment and returns a presigned link to the file.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	if e == nil {
		return Result{}, errors.New("nil exporter")
	}

	list, err := e.src.ListPayments(ctx)
	if err != nil {
		return Result{}, err
	}

	var raw bytes.Buffer
	zw := gzip.NewWriter(&raw)
	if err := WriteCSV(zw, list.Payments); err != nil {
		return Result{}, fmt.Errorf("write ledger: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("compress ledger: %w", err)
	}

	sum := sha256.Sum256(raw.Bytes())
	digest := hex.EncodeToString(sum[:])
	now := e.now()
	key := fmt.Sprintf("ledger/payments-%s.csv.gz", now.Format("20060102T150405Z"))

	err = e.store.PutObject(ctx, gs3.PutInput{
		Bucket:          e.bucket,
		Key:             key,
		Body:            bytes.NewReader(raw.Bytes()),
		Size:            int64(raw.Len()),
		SHA256:          digest,
		ContentType:     "text/csv",
		ContentEncoding: "gzip",
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload ledger: %w", err)
	}

	url, err := e.store.PresignGet(ctx, e.bucket, key, e.ttl)
	if err != nil {
		return Result{}, fmt.Errorf("presign ledger: %w", err)
	}

	return Result{
		Key:         key,
		URL:         url,
		ExpiresAt:   now.Add(e.ttl),
		Count:       list.Count,
		TotalAmount: list.TotalAmount,
		SHA256:      digest,
	}, nil
}

var header = []string{"id", "date", "user", "game", "rental", "kind", "amount"}

// WriteCSV writes payments as CSV rows, amounts with two decimals.
func WriteCSV(w io.Writer, payments []rentals.Payment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, p := range payments {
		row := []string{
			p.ID.String(),
			p.Date.UTC().Format(time.RFC3339),
			p.UserID,
			p.GameID,
			p.RentalID.String(),
			string(p.Kind),
			p.Amount.StringFixed(2),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
