package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/require"
)

func TestContractLoadsAndValidates(t *testing.T) {
	t.Parallel()

	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromFile(filepath.Join("..", "..", contractPath))
	require.NoError(t, err)
	require.NoError(t, spec.Validate(context.Background()))

	// the validator strips this base path when matching requests
	require.Len(t, spec.Servers, 1)
	require.Equal(t, "/api/v1", spec.Servers[0].URL)

	for _, path := range []string{
		"/lots",
		"/lots/{lotId}",
		"/lots/{lotId}/move",
		"/lots/{lotId}/qr-snapshots",
		"/qr-snapshots/{snapshotId}/rotate",
		"/qr-snapshots/{snapshotId}/revoke",
		"/zones",
		"/zones/{zoneId}",
		"/board",
		"/templates/lot-fields",
	} {
		require.NotNil(t, spec.Paths.Find(path), "missing path %s", path)
	}
}
