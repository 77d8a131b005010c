package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationMarshalsAsMilliseconds(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, "1500", string(data))
}

func TestDurationRoundTrips(t *testing.T) {
	original := Duration(250 * time.Millisecond)
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Duration
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestVerbPriorityOrdering(t *testing.T) {
	assert.Less(t, VerbHalt.Priority(), VerbDeny.Priority())
	assert.Less(t, VerbDeny.Priority(), VerbBlock.Priority())
	assert.Less(t, VerbBlock.Priority(), VerbAsk.Priority())
	assert.Less(t, VerbAsk.Priority(), VerbAllowOverride.Priority())
	assert.Less(t, VerbAllowOverride.Priority(), VerbAddContext.Priority())
}

func TestRoutingKeyString(t *testing.T) {
	assert.Equal(t, "PreToolUse:Bash", RoutingKey{EventName: "PreToolUse", ToolName: "Bash"}.String())
	assert.Equal(t, "SessionStart", RoutingKey{EventName: "SessionStart"}.String())
}
