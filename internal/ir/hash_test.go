package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogRecord(seq int64, msg string) Record {
	return Record{
		Seq:     seq,
		RunID:   "run-1",
		ScopeID: "run-1",
		Kind:    KindLog,
		Log:     &Log{Severity: SeverityInfo, Message: msg},
	}
}

func TestRecordIDDeterminism(t *testing.T) {
	id1, err := RecordID(testLogRecord(1, "hello"))
	require.NoError(t, err)

	id2, err := RecordID(testLogRecord(1, "hello"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "RecordID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestRecordIDChangesWithInput(t *testing.T) {
	base, err := RecordID(testLogRecord(1, "hello"))
	require.NoError(t, err)

	otherSeq, err := RecordID(testLogRecord(2, "hello"))
	require.NoError(t, err)

	otherMsg, err := RecordID(testLogRecord(1, "bye"))
	require.NoError(t, err)

	assert.NotEqual(t, base, otherSeq)
	assert.NotEqual(t, base, otherMsg)
}

func TestRecordIDMissingPayload(t *testing.T) {
	_, err := RecordID(Record{Seq: 1, RunID: "r", ScopeID: "r", Kind: KindLog})
	require.Error(t, err)
}
