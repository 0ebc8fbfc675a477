//go:build integration

package order

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/procurer/manifest"
	"github.com/harborline/procurer/supplychain"
)

type staticCatalog struct {
	procurements map[string]*Procurement
}

func (c *staticCatalog) Procurement(id string) (*Procurement, error) {
	p, ok := c.procurements[id]
	if !ok {
		return nil, fmt.Errorf("procurement %s not found", id)
	}
	return p, nil
}

type nullDistillery struct{}

func (nullDistillery) Ref() string { return "null" }
func (nullDistillery) Store(ctx context.Context, platform string, data map[string]any) (string, error) {
	return "", nil
}
func (nullDistillery) Find(ctx context.Context, docID string) (map[string]any, error) {
	return nil, nil
}

func newTestService(t *testing.T) (*Service, jetstream.JetStream) {
	t.Helper()
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	js, err := tc.Client.JetStream()
	require.NoError(t, err)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      supplychain.StreamName,
		Subjects:  []string{supplychain.SubjectPrefix},
		Retention: jetstream.WorkQueuePolicy,
	})
	require.NoError(t, err)

	store, err := NewStore(ctx, js)
	require.NoError(t, err)

	manifests, err := manifest.NewStore(ctx, js)
	require.NoError(t, err)

	catalog := &staticCatalog{procurements: map[string]*Procurement{
		"proc-url": {ID: "proc-url", Name: "url scan", Chain: urlChain()},
	}}

	return NewService(catalog, store, manifests, tc.Client, nullDistillery{}, nil), js
}

func TestSubmitQueuesFirstLink(t *testing.T) {
	svc, js := newTestService(t)
	ctx := context.Background()

	o, err := svc.Submit(ctx, "proc-url", "alice", map[string]any{"url": "http://dunbararmored.com"})
	require.NoError(t, err)
	assert.Equal(t, StatePending, o.State)
	assert.NotEmpty(t, o.ID)

	stream, err := js.Stream(ctx, supplychain.StreamName)
	require.NoError(t, err)

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "test-reader",
		FilterSubject: supplychain.TaskSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	require.NoError(t, err)

	batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	require.NoError(t, err)

	var task *supplychain.LinkTask
	for msg := range batch.Messages() {
		task, err = supplychain.ParseLinkTask(msg.Data())
		require.NoError(t, err)
		require.NoError(t, msg.Ack())
	}
	require.NotNil(t, task, "expected a queued link task")
	assert.Equal(t, o.ID, task.OrderID)
	assert.Equal(t, "proc-url", task.ProcurementID)
	assert.Equal(t, 0, task.Position)
	assert.Equal(t, "http://dunbararmored.com", task.Data["url"])
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), "proc-url", "alice", map[string]any{"domain": "x.com"})
	require.Error(t, err)

	var verr *supplychain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmitUnknownProcurement(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), "proc-missing", "alice", nil)
	require.Error(t, err)
}

func TestSubmitForAlert(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	alert := &Alert{Data: map[string]any{"url": "http://dunbararmored.com"}}
	require.NoError(t, svc.store.PutAlert(ctx, alert))

	o, err := svc.SubmitForAlert(ctx, "proc-url", alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://dunbararmored.com", o.InputData["url"])
	assert.Equal(t, alert.ID, o.AlertID)

	stored, err := svc.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, stored.AlertID)

	// Submission writes the order exactly once, before the first task
	// is published; a second write could race the executor and clobber
	// its state transitions.
	entry, err := svc.store.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Revision())

	// An executor finishing the chain immediately must not lose its
	// result to the submission path.
	require.NoError(t, svc.store.SetResult(ctx, o.ID, "PROCURER_DOCS", "doc-alert"))
	final, err := svc.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, "doc-alert", final.DocID)
	assert.Equal(t, alert.ID, final.AlertID)
}

func TestOrderLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o, err := svc.Submit(ctx, "proc-url", "alice", map[string]any{"url": "http://example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.store.SetState(ctx, o.ID, StateRunning))
	require.NoError(t, svc.store.SetResult(ctx, o.ID, "PROCURER_DOCS", "doc-1"))

	status, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.Order.State)
	assert.Equal(t, "doc-1", status.Order.DocID)

	orders, err := svc.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, orders, 1)
}
