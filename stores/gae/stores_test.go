package gae_test

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/gae"
	"github.com/panyam/authcore/stores/storetest"
)

// Runs against the Datastore emulator:
//
//	gcloud beta emulators datastore start --consistency=1.0
//	$(gcloud beta emulators datastore env-init)
func TestDatastoreStore(t *testing.T) {
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := datastore.NewClient(ctx, "authcore-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	storetest.RunCredentialStoreTests(t, func(t *testing.T) ac.CredentialStore {
		// A fresh namespace isolates each subtest
		return gae.NewStore(client, "t"+uuid.NewString()[:8])
	})
}
