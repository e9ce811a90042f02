package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobServer serves the two blob endpoints read by the archive
func blobServer(t *testing.T, blobs map[string]string) *AzureStorage {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("comp") == "list" {
			prefix := r.URL.Query().Get("prefix")
			w.Header().Set("Content-Type", "application/xml")
			var b strings.Builder
			b.WriteString(`<?xml version="1.0" encoding="utf-8"?><EnumerationResults ContainerName="archive"><Blobs>`)
			for name := range blobs {
				if strings.HasPrefix(name, prefix) {
					b.WriteString("<Blob><Name>" + name + "</Name><Properties></Properties></Blob>")
				}
			}
			b.WriteString(`</Blobs><NextMarker /></EnumerationResults>`)
			w.Write([]byte(b.String()))
			return
		}

		name := strings.TrimPrefix(r.URL.Path, "/archive/")
		body, ok := blobs[name]
		if !ok {
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client, err := azblob.NewClientWithNoCredential(server.URL+"/", nil)
	require.NoError(t, err)
	return newAzureStorage(client, "archive")
}

func TestAzureStorage_GetAndList(t *testing.T) {
	ctx := context.Background()
	archive := blobServer(t, map[string]string{
		"campaigns/c1/analysis-20240510-120000.json": `{"campaign_id":"c1"}`,
		"campaigns/c1/analysis-20240509-120000.json": `{"campaign_id":"c1"}`,
		"campaigns/c2/analysis-20240510-120000.json": `{"campaign_id":"c2"}`,
	})

	names, err := archive.List(ctx, "campaigns/c1/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"campaigns/c1/analysis-20240509-120000.json",
		"campaigns/c1/analysis-20240510-120000.json",
	}, names)

	data, err := archive.Get(ctx, "campaigns/c2/analysis-20240510-120000.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"campaign_id":"c2"}`, string(data))

	_, err = archive.Get(ctx, "campaigns/c3/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
