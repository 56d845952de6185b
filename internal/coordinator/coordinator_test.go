package coordinator

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minio/raidfive/internal/apierrors"
	"github.com/minio/raidfive/internal/blockstore"
	"github.com/minio/raidfive/internal/catalog"
	"github.com/minio/raidfive/internal/health"
	"github.com/minio/raidfive/internal/parity"
	"github.com/minio/raidfive/internal/transport"
)

// fakeNodeHealth implements transport.HealthSource for a test node server.
type fakeNodeHealth struct {
	id      int
	started time.Time
}

func (f *fakeNodeHealth) NodeID() int                    { return f.id }
func (f *fakeNodeHealth) Status() transport.NodeStatus    { return transport.StatusHealthy }
func (f *fakeNodeHealth) Uptime() time.Duration           { return time.Since(f.started) }
func (f *fakeNodeHealth) ErrorCount() int                 { return 0 }

type testCluster struct {
	t        *testing.T
	servers  map[int]*httptest.Server
	stores   map[int]*blockstore.Store
	clients  map[int]*transport.NodeClient
	monitor  *health.Monitor
	cat      *catalog.Catalog
	engine   *parity.Engine
	coord    *Coordinator
}

func newTestCluster(t *testing.T) *testCluster {
	t.Helper()

	stores := make(map[int]*blockstore.Store)
	servers := make(map[int]*httptest.Server)
	clients := make(map[int]*transport.NodeClient)
	probers := make(map[int]health.Prober)

	for id := 1; id <= N; id++ {
		store, err := blockstore.New(t.TempDir(), 64<<20)
		require.NoError(t, err)
		stores[id] = store

		router := transport.NewNodeRouter(store, &fakeNodeHealth{id: id, started: time.Now()})
		srv := httptest.NewServer(router)
		servers[id] = srv
		t.Cleanup(srv.Close)

		client, err := transport.NewNodeClient(id, srv.URL, transport.DefaultPolicy())
		require.NoError(t, err)
		clients[id] = client
		probers[id] = NewNodeProber(id, client)
	}

	monitor := health.New(probers, time.Minute)
	monitor.CheckAll(context.Background())

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	engine, err := parity.New(D)
	require.NoError(t, err)

	coord, err := New(clients, engine, cat, monitor, 64*1024, 100<<20)
	require.NoError(t, err)

	return &testCluster{t: t, servers: servers, stores: stores, clients: clients, monitor: monitor, cat: cat, engine: engine, coord: coord}
}

func (tc *testCluster) stopNode(id int) {
	tc.servers[id].Close()
	tc.monitor.CheckNode(context.Background(), id)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	tc := newTestCluster(t)
	data := make([]byte, 200000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	res, err := tc.coord.Upload(context.Background(), "report.pdf", data, "application/pdf")
	require.NoError(t, err)
	// ceil(200000/65536) = 4 data blocks -> stripe 0 has 3 data + 1 parity,
	// stripe 1 has 1 data + 1 parity: 6 blocks total.
	require.Equal(t, 6, res.BlocksCreated)
	require.NotEmpty(t, res.FileID)

	got, ct, err := tc.coord.Download(context.Background(), "report.pdf")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", ct)
	require.Equal(t, data, got)
}

func TestUploadOneByteFile(t *testing.T) {
	tc := newTestCluster(t)
	data := []byte{0x42}

	_, err := tc.coord.Upload(context.Background(), "tiny.pdf", data, "application/pdf")
	require.NoError(t, err)

	got, _, err := tc.coord.Download(context.Background(), "tiny.pdf")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	tc := newTestCluster(t)
	_, err := tc.coord.Upload(context.Background(), "notes.txt", make([]byte, 10), "text/plain")
	require.ErrorIs(t, err, apierrors.ErrValidation)

	_, err = tc.coord.Info("notes.txt")
	require.Error(t, err, "no blocks or catalog entry should exist")
}

func TestDownloadSurvivesSingleNodeFailure(t *testing.T) {
	tc := newTestCluster(t)
	data := make([]byte, 200000)
	for i := range data {
		data[i] = byte(i % 199)
	}
	_, err := tc.coord.Upload(context.Background(), "survive.pdf", data, "application/pdf")
	require.NoError(t, err)

	// Stop the parity node of stripe 0.
	tc.stopNode(parityNodeFor(0))

	got, _, err := tc.coord.Download(context.Background(), "survive.pdf")
	require.NoError(t, err)
	require.Equal(t, data, got)

	stats := tc.coord.StatusRaid()
	require.Equal(t, health.Degraded, stats.Status)
}

func TestDownloadSurvivesTwoIndependentStripeFailures(t *testing.T) {
	tc := newTestCluster(t)
	data := make([]byte, 200000)
	for i := range data {
		data[i] = byte(i % 7)
	}
	_, err := tc.coord.Upload(context.Background(), "independent.pdf", data, "application/pdf")
	require.NoError(t, err)

	nodeStripe0K1 := dataNodeFor(0, 1)
	nodeStripe1K0 := dataNodeFor(1, 0)
	require.NotEqual(t, nodeStripe0K1, nodeStripe1K0)

	tc.stopNode(nodeStripe0K1)
	tc.stopNode(nodeStripe1K0)

	got, _, err := tc.coord.Download(context.Background(), "independent.pdf")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDownloadFailsUnrecoverableWhenStripeLosesTwoMembers(t *testing.T) {
	tc := newTestCluster(t)
	data := make([]byte, 200000)
	_, err := tc.coord.Upload(context.Background(), "doomed.pdf", data, "application/pdf")
	require.NoError(t, err)

	p0 := parityNodeFor(0)
	k0 := dataNodeFor(0, 0)
	tc.stopNode(p0)
	tc.stopNode(k0)

	_, _, err = tc.coord.Download(context.Background(), "doomed.pdf")
	require.ErrorIs(t, err, apierrors.ErrUnrecoverableLoss)

	// Metadata and delete still work despite the unreadable stripe.
	_, err = tc.coord.Info("doomed.pdf")
	require.NoError(t, err)
	_, err = tc.coord.Delete(context.Background(), "doomed.pdf")
	require.NoError(t, err)
}

func TestDeleteRemovesCatalogEntry(t *testing.T) {
	tc := newTestCluster(t)
	_, err := tc.coord.Upload(context.Background(), "bye.pdf", []byte("small file"), "application/pdf")
	require.NoError(t, err)

	deleted, err := tc.coord.Delete(context.Background(), "bye.pdf")
	require.NoError(t, err)
	require.Equal(t, 2, deleted) // one short stripe: 1 data block + 1 parity block

	_, err = tc.coord.Info("bye.pdf")
	require.Error(t, err)
}

func TestPlacementDistinctWithinStripe(t *testing.T) {
	for s := 0; s < 10; s++ {
		seq := dataNodeSequence(s)
		seen := map[int]bool{parityNodeFor(s): true}
		for _, n := range seq {
			require.False(t, seen[n], "node %d repeated in stripe %d", n, s)
			seen[n] = true
		}
		require.Len(t, seen, N)
	}
}
