package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgulliver/chunkd/pkg/config"
)

func TestStorageFactory_CreateStorage(t *testing.T) {
	tests := []struct {
		name        string
		storageType string
		shouldError bool
	}{
		{
			name:        "local storage",
			storageType: "local",
			shouldError: false,
		},
		{
			name:        "s3 not implemented",
			storageType: "s3",
			shouldError: true,
		},
		{
			name:        "gcs not implemented",
			storageType: "gcs",
			shouldError: true,
		},
		{
			name:        "azure not implemented",
			storageType: "azure",
			shouldError: true,
		},
		{
			name:        "unknown type",
			storageType: "floppy",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := NewStorageFactory(&config.StorageConfig{
				Type:      tt.storageType,
				LocalPath: t.TempDir(),
			})

			blobStorage, err := factory.CreateStorage()

			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, blobStorage)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, blobStorage)
			}
		})
	}
}
