package mysql

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("driver: bad connection"), true},
		{errors.New("dial tcp 127.0.0.1:3306: connect: Connection Refused"), true},
		{errors.New("Error 2006: MySQL server has gone away"), true},
		{errors.New("Error 1062: Duplicate entry 'x' for key 'PRIMARY'"), false},
		{errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}

func TestBuildSet(t *testing.T) {
	set, args, err := buildSet("entity", map[string]any{
		types.FieldToolIssueKey: "PRJ-1",
		types.FieldToolCreated:  types.ToolCreatedSuccess,
		types.FieldDeleted:      true,
	}, entityColumns)
	require.NoError(t, err)

	// Keys are sorted, so the statement is stable.
	assert.Equal(t, "deleted = ?, tool_created = ?, tool_issue_key = ?", set)
	assert.Equal(t, []any{true, "SUCCESS", "PRJ-1"}, args)
}

func TestBuildSetRejectsUnknownField(t *testing.T) {
	_, _, err := buildSet("entity", map[string]any{"project_id": "other"}, entityColumns)
	assert.ErrorIs(t, err, storage.ErrUnknownField)

	_, _, err = buildSet("version", nil, versionColumns)
	assert.Error(t, err)

	_, _, err = buildSet("job", map[string]any{types.FieldJobError: 42}, jobColumns)
	assert.Error(t, err)
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("root:pw@tcp(127.0.0.1:3306)/captain")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")

	_, err = normalizeDSN("not a dsn")
	assert.Error(t, err)
}

func TestNewRetryBackoffHonorsMaxElapsed(t *testing.T) {
	bo := newRetryBackoff(time.Second)
	assert.Greater(t, bo.NextBackOff(), time.Duration(0))
}
