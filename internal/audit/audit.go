// Package audit persists one record per evaluation, win or lose, for
// later inspection or external log shipping. The default sink is an
// append-only NDJSON file under the project's .cupcake directory; an
// S3Store is available for teams that centralize audit logs off-host.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/cupcake-sh/cupcake/internal/types"
)

// Store persists and retrieves audit records.
type Store interface {
	Write(ctx context.Context, record *types.AuditRecord) (string, error)
}

// FileStore appends one NDJSON line per record to a file, guarded by a
// mutex so concurrent Write calls within one process do not interleave
// their lines.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store for the NDJSON audit log at path. The
// file is opened (and created if absent) on each Write. The parent
// directory must already exist at 0700, which the config package's
// StateDir guarantees.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Write(ctx context.Context, record *types.AuditRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("audit: marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("audit: open %s: %w", s.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.Write(line); err != nil {
		return "", fmt.Errorf("audit: write record: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return "", fmt.Errorf("audit: write newline: %w", err)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("audit: flush: %w", err)
	}

	return record.ID, nil
}

// S3Client is the subset of the S3 SDK audit needs, so tests can
// substitute a fake without pulling in network calls.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes audit records as individual S3 objects, keyed by
// date so a bucket lifecycle policy can expire old records without a
// separate index.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3Store returns an S3-backed audit store. prefix defaults to
// "audit" when empty.
func NewS3Store(client S3Client, bucket, prefix string) *S3Store {
	if prefix == "" {
		prefix = "audit"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) Write(ctx context.Context, record *types.AuditRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("audit: marshal record: %w", err)
	}

	key := fmt.Sprintf("%s/%04d/%02d/%02d/%s.json",
		s.prefix, record.Timestamp.Year(), record.Timestamp.Month(), record.Timestamp.Day(), record.ID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("audit: put object %s: %w", key, err)
	}

	return record.ID, nil
}

// Writer wraps a Store with the convenience of filling in timing and
// building the record from pipeline state.
type Writer struct {
	store Store
}

// NewWriter returns a Writer over store.
func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// ResultInfo carries the parts of an evaluation beyond the
// FinalDecision that belong in the audit record: which policies
// actually matched, what each signal script did, and which
// preprocessing transformations fired.
type ResultInfo struct {
	MatchedPolicies []string
	Signals         []types.SignalResult
	Transformations types.Transformations
}

// WriteResult builds and persists an AuditRecord for one evaluation.
func (w *Writer) WriteResult(ctx context.Context, ev types.Event, final types.FinalDecision, info ResultInfo, timing types.PipelineTiming, evalErr error) (string, error) {
	record := &types.AuditRecord{
		HarnessName:     ev.HarnessName,
		EventName:       ev.EventName,
		ToolName:        ev.ToolName,
		SessionID:       ev.SessionID,
		Decision:        final,
		MatchedPolicies: info.MatchedPolicies,
		Signals:         info.Signals,
		Transformations: info.Transformations,
		Timing:          timing,
	}
	if evalErr != nil {
		record.Err = evalErr.Error()
	}
	return w.store.Write(ctx, record)
}
