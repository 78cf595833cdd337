package telemetry

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage/memory"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

func TestDisabledIsPassthrough(t *testing.T) {
	t.Setenv("CAPTAIN_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "captain", "test"))
	defer Shutdown(context.Background())

	store := memory.New()
	assert.Same(t, storage.Store(store), WrapStore(store))

	h := http.NotFoundHandler()
	assert.NotNil(t, WrapHandler(h, "api"))
	assert.Equal(t, http.DefaultTransport, WrapTransport(http.DefaultTransport))
}

func TestInstrumentedStoreDelegates(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	inner.PutProject(types.Project{ID: "p1"})
	s := newInstrumentedStore(inner)

	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)

	require.NoError(t, s.CreateProject(ctx, &types.Project{ID: "p2"}, &types.Version{Version: "v1"}))
	p, err = inner.GetProject(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "v1", p.LatestVersion)

	_, err = s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	// Helpers must be callable against the no-op providers.
	CountTrackerRequest(ctx, http.MethodGet, 200)
	CountTrackerRetry(ctx, "rate_limited")
	CountReconciled(ctx, "testcases", 2, 1)
	CountJob(ctx, "completed")
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty())
}
