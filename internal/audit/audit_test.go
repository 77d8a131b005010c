package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupcake-sh/cupcake/internal/types"
)

func TestFileStoreWriteAppendsNDJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	store := NewFileStore(path)

	id, err := store.Write(context.Background(), &types.AuditRecord{
		HarnessName: "claude-code",
		EventName:   "PreToolUse",
		ToolName:    "Bash",
		Decision:    types.FinalDecision{Verb: types.VerbDeny},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record types.AuditRecord
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &record))
	assert.Equal(t, id, record.ID)
	assert.Equal(t, types.VerbDeny, record.Decision.Verb)
	assert.False(t, record.Timestamp.IsZero())
}

func TestFileStoreWriteAppendsMultipleRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	store := NewFileStore(path)

	_, err := store.Write(context.Background(), &types.AuditRecord{EventName: "PreToolUse"})
	require.NoError(t, err)
	_, err = store.Write(context.Background(), &types.AuditRecord{EventName: "PostToolUse"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

type fakeS3Client struct {
	puts []*s3.PutObjectInput
}

func (f *fakeS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, params)
	return &s3.PutObjectOutput{}, nil
}

func TestS3StoreWritePutsObjectKeyedByDate(t *testing.T) {
	fake := &fakeS3Client{}
	store := NewS3Store(fake, "audit-bucket", "")

	id, err := store.Write(context.Background(), &types.AuditRecord{
		EventName: "PreToolUse",
		Decision:  types.FinalDecision{Verb: types.VerbHalt},
	})
	require.NoError(t, err)

	require.Len(t, fake.puts, 1)
	put := fake.puts[0]
	assert.Equal(t, "audit-bucket", *put.Bucket)
	assert.Contains(t, *put.Key, "audit/")
	assert.Contains(t, *put.Key, id+".json")
}

func TestWriterWriteResultBuildsRecordFromEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	writer := NewWriter(NewFileStore(path))

	ev := types.Event{HarnessName: "cursor", EventName: "PreToolUse", ToolName: "Write", SessionID: "sess-1"}
	final := types.FinalDecision{Verb: types.VerbAsk, Reason: "confirm overwrite"}

	id, err := writer.WriteResult(context.Background(), ev, final, ResultInfo{MatchedPolicies: []string{"project.policies.confirm_overwrite"}}, types.PipelineTiming{}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var record types.AuditRecord
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &record))

	assert.Equal(t, id, record.ID)
	assert.Equal(t, "cursor", record.HarnessName)
	assert.Equal(t, "sess-1", record.SessionID)
	assert.Equal(t, []string{"project.policies.confirm_overwrite"}, record.MatchedPolicies)
	assert.Empty(t, record.Err)
}

func TestWriterWriteResultRecordsEvalError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	writer := NewWriter(NewFileStore(path))

	_, err := writer.WriteResult(context.Background(), types.Event{EventName: "PreToolUse"}, types.FinalDecision{Verb: types.VerbAllowOverride}, ResultInfo{}, types.PipelineTiming{}, assert.AnError)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var record types.AuditRecord
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &record))
	assert.NotEmpty(t, record.Err)
}
