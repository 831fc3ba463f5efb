package aggregatorclient

import (
	"context"
	"testing"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/cardano-stm/mithril-core/pkg/stm"
	"github.com/stretchr/testify/require"
)

func TestStubClient_RoundTrip(t *testing.T) {
	c := NewStubClient()
	beacon := entities.Beacon{Network: "testnet", Epoch: 9, ImmutableFileNumber: 99}
	c.SetCurrentBeacon(beacon)
	c.SetEpochSettings(&EpochSettings{Epoch: 9, ProtocolParameters: stm.StmParameters{M: 100, K: 5, PhiF: 0.65}})
	c.SetPendingCertificate(&CertificatePending{Beacon: beacon})

	ctx := context.Background()

	got, err := c.CurrentBeacon(ctx)
	require.NoError(t, err)
	require.Equal(t, beacon, got)

	settings, err := c.EpochSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, entities.Epoch(9), settings.Epoch)

	pending, err := c.PendingCertificate(ctx)
	require.NoError(t, err)
	require.True(t, pending.Beacon.Equal(beacon))

	require.NoError(t, c.Register(ctx, SignerRegistration{Epoch: 9}))
	require.NoError(t, c.SubmitSignature(ctx, SignatureSubmission{Beacon: beacon}))
	require.Len(t, c.Registrations(), 1)
	require.Len(t, c.Submissions(), 1)
}

type fakeTransport struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	status int
}

func (f *fakeTransport) Do(_ context.Context, _, _ string, _, _ interface{}) (string, int, error) {
	resp := f.responses[f.calls]
	f.calls++
	return "", resp.status, nil
}

func TestProductionClient_RequiresAtLeastTwoVersions(t *testing.T) {
	_, err := NewProductionClient(&fakeTransport{}, []string{"v1"}, 100, 1)
	require.Error(t, err)
}

func TestProductionClient_RetriesOnceOn412(t *testing.T) {
	transport := &fakeTransport{responses: []fakeResponse{{status: 412}, {status: 200}}}
	c, err := NewProductionClient(transport, []string{"v2", "v1"}, 1000, 10)
	require.NoError(t, err)

	_, err = c.CurrentBeacon(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, transport.calls)

	version, err := c.currentVersion()
	require.NoError(t, err)
	require.Equal(t, "v1", version)
}

func TestProductionClient_ExhaustedVersionsIsFatal(t *testing.T) {
	transport := &fakeTransport{responses: []fakeResponse{{status: 412}}}
	c, err := NewProductionClient(transport, []string{"v2", "v1"}, 1000, 10)
	require.NoError(t, err)

	c.apiVersions = []string{"v1"} // simulate already having discarded once

	_, err = c.CurrentBeacon(context.Background())
	require.Error(t, err)
}

func TestProductionClient_404MapsToSnapshotNotFound(t *testing.T) {
	transport := &fakeTransport{responses: []fakeResponse{{status: 404}}}
	c, err := NewProductionClient(transport, []string{"v2", "v1"}, 1000, 10)
	require.NoError(t, err)

	pending, err := c.PendingCertificate(context.Background())
	require.NoError(t, err)
	require.Nil(t, pending)
}
