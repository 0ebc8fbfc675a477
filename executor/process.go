package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/harborline/procurer/handler"
	"github.com/harborline/procurer/manifest"
	"github.com/harborline/procurer/order"
	"github.com/harborline/procurer/quartermaster"
	"github.com/harborline/procurer/supplychain"
)

// handleTask processes one link task message. Permanent failures are
// recorded against the order and acked; transient infrastructure
// failures are nacked for redelivery.
func (c *Component) handleTask(ctx context.Context, msg jetstream.Msg) {
	c.tasksProcessed.Add(1)
	c.updateLastActivity()

	task, err := supplychain.ParseLinkTask(msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse link task", "error", err)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}

	c.logger.Info("Executing link",
		"order_id", task.OrderID,
		"procurement_id", task.ProcurementID,
		"position", task.Position)

	if err := c.executeTask(ctx, task); err != nil {
		c.logger.Error("Link execution hit transient failure",
			"order_id", task.OrderID,
			"position", task.Position,
			"error", err)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

// executeTask runs one link of a supply chain. A nil return means the
// task is settled (succeeded or permanently failed); an error means
// the work should be redelivered.
func (c *Component) executeTask(ctx context.Context, task *supplychain.LinkTask) error {
	proc, err := c.catalog.Procurement(task.ProcurementID)
	if err != nil {
		// Catalog no longer knows the procurement: permanent.
		c.logger.Error("Unknown procurement for task",
			"order_id", task.OrderID,
			"procurement_id", task.ProcurementID)
		c.finishOrder(ctx, task.OrderID, order.StateFailed)
		return nil
	}

	links := proc.Chain.OrderedLinks()
	idx := -1
	for i, l := range links {
		if l.Position == task.Position {
			idx = i
			break
		}
	}
	if idx == -1 {
		c.logger.Error("No link at task position",
			"order_id", task.OrderID,
			"chain", proc.Chain.ID,
			"position", task.Position)
		c.finishOrder(ctx, task.OrderID, order.StateFailed)
		return nil
	}
	link := links[idx]

	if idx == 0 {
		if err := c.orders.SetState(ctx, task.OrderID, order.StateRunning); err != nil {
			if errors.Is(err, order.ErrNotFound) {
				c.logger.Error("Task references unknown order", "order_id", task.OrderID)
				return nil
			}
			return fmt.Errorf("mark order running: %w", err)
		}
	}

	cargo, err := c.processLink(ctx, task, link)
	if err != nil {
		return err
	}
	if cargo == nil {
		c.linksFailed.Add(1)
		c.finishOrder(ctx, task.OrderID, order.StateFailed)
		return nil
	}
	c.linksSucceeded.Add(1)

	if idx == len(links)-1 {
		docID, err := c.distillery.Store(persistCtx(ctx), proc.Chain.Platform(), cargo.Data)
		if err != nil {
			return fmt.Errorf("store final document: %w", err)
		}
		if err := c.orders.SetResult(persistCtx(ctx), task.OrderID, c.distillery.Ref(), docID); err != nil {
			return fmt.Errorf("record order result: %w", err)
		}
		c.ordersFinished.Add(1)
		c.logger.Info("Supply order completed",
			"order_id", task.OrderID,
			"doc_id", docID)
		return nil
	}

	next := links[idx+1]
	if err := c.publishNext(ctx, task, next.Position, cargo.Data); err != nil {
		return fmt.Errorf("queue next link: %w", err)
	}
	return nil
}

// processLink runs the provider call for one link, recording a stamp
// and a manifest for every attempt. A nil cargo with a nil error means
// the chain must not continue; a non-nil error means persistence
// failed and the task should be redelivered.
func (c *Component) processLink(ctx context.Context, task *supplychain.LinkTask, link *supplychain.SupplyLink) (*handler.Cargo, error) {
	req := link.Requisition

	if err := link.ValidateInput(task.Data); err != nil {
		c.recordFailure(ctx, task, req.Key(), manifest.StatusError, err.Error())
		return nil, nil
	}

	supplier, err := c.catalog.Supplier(req.Supplier)
	if err != nil || !supplier.Enabled {
		c.recordFailure(ctx, task, req.Key(), manifest.StatusError,
			fmt.Sprintf("supplier %s is not enabled", req.Supplier))
		return nil, nil
	}

	h := handler.Get(req.Supplier, req.APIClass)
	if h == nil {
		c.recordFailure(ctx, task, req.Key(), manifest.StatusError,
			fmt.Sprintf("no handler registered for %s", req.Key()))
		return nil, nil
	}

	if countdown := link.Countdown(); countdown > 0 {
		c.logger.Debug("Waiting out link countdown",
			"order_id", task.OrderID,
			"position", link.Position,
			"countdown", countdown)
		select {
		case <-time.After(countdown):
		case <-ctx.Done():
			c.recordFailure(ctx, task, req.Key(), manifest.StatusCancelled, "cancelled during countdown")
			return nil, nil
		}
	}

	qm, err := c.resolver.Resolve(task.UserID, req)
	if err != nil {
		status := manifest.StatusError
		if errors.Is(err, quartermaster.ErrRateLimited) {
			status = manifest.StatusRateLimited
		}
		c.recordFailure(ctx, task, req.Key(), status, err.Error())
		return nil, nil
	}

	stamp, err := c.manifests.MintStamp(ctx, task.UserID, req.Key(), qm.Passport.ID)
	if err != nil {
		return nil, fmt.Errorf("mint stamp for %s: %w", req.Key(), err)
	}

	params := req.BuildParams(link.Params(task.Data))

	linkCtx, cancel := context.WithTimeout(ctx, c.config.GetHandlerTimeout())
	defer cancel()

	cargo, err := h.Process(linkCtx, params, qm.Passport.Key)
	if err != nil {
		status, notes := classifyHandlerError(err)
		if perr := c.finalizeCall(ctx, task, stamp.ID, link.Position, status, notes, nil); perr != nil {
			return nil, perr
		}
		return nil, nil
	}

	if perr := c.finalizeCall(ctx, task, stamp.ID, link.Position, cargo.StatusCode, cargo.Notes, cargo.Data); perr != nil {
		return nil, perr
	}
	return cargo, nil
}

// classifyHandlerError maps a handler failure onto a stamp status code
// and notes. Provider HTTP failures keep their numeric status.
func classifyHandlerError(err error) (status, notes string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return manifest.StatusTimeout, "provider call timed out"
	case errors.Is(err, context.Canceled):
		return manifest.StatusCancelled, "cancelled"
	}
	if te, ok := handler.AsTransport(err); ok && te.StatusCode > 0 {
		return strconv.Itoa(te.StatusCode), te.Reason
	}
	return manifest.StatusError, err.Error()
}

// recordFailure stamps a call attempt that never reached the provider
// and appends a manifest bound to the stamp, so the order's manifest
// list explains the failure. No passport is recorded because none was
// used, and no payload data exists.
func (c *Component) recordFailure(ctx context.Context, task *supplychain.LinkTask, endpoint, status, notes string) {
	c.logger.Warn("Link failed before provider call",
		"order_id", task.OrderID,
		"endpoint", endpoint,
		"status", status,
		"notes", notes)

	pctx := persistCtx(ctx)
	stamp, err := c.manifests.MintStamp(pctx, task.UserID, endpoint, "")
	if err != nil {
		c.logger.Error("Failed to mint failure stamp", "order_id", task.OrderID, "error", err)
		return
	}
	if _, err := c.manifests.FinalizeStamp(pctx, stamp.ID, status, notes); err != nil {
		c.logger.Error("Failed to finalize failure stamp", "order_id", task.OrderID, "error", err)
	}

	m := &manifest.Manifest{
		SupplyOrderID: task.OrderID,
		StampID:       stamp.ID,
		Position:      task.Position,
	}
	if err := c.manifests.CreateManifest(pctx, m); err != nil {
		c.logger.Error("Failed to store failure manifest", "order_id", task.OrderID, "error", err)
	}
}

// finalizeCall records the outcome of an invoked provider call: the
// stamp outcome plus an append-only manifest. Persistence survives
// task cancellation and is retried on transient KV failures; if it
// still fails, the error propagates so the task is redelivered rather
// than finalized with records missing.
func (c *Component) finalizeCall(ctx context.Context, task *supplychain.LinkTask, stampID string, position int, status, notes string, data map[string]any) error {
	pctx := persistCtx(ctx)

	err := retry.Do(pctx, retry.DefaultConfig(), func() error {
		_, err := c.manifests.FinalizeStamp(pctx, stampID, status, notes)
		return err
	})
	if err != nil {
		return fmt.Errorf("finalize stamp %s: %w", stampID, err)
	}

	m := &manifest.Manifest{
		SupplyOrderID: task.OrderID,
		StampID:       stampID,
		Position:      position,
		Data:          data,
	}
	err = retry.Do(pctx, retry.DefaultConfig(), func() error {
		return c.manifests.CreateManifest(pctx, m)
	})
	if err != nil {
		return fmt.Errorf("store manifest for stamp %s: %w", stampID, err)
	}
	return nil
}

// finishOrder marks the order with a terminal state, tolerating a
// missing order record.
func (c *Component) finishOrder(ctx context.Context, orderID string, state order.State) {
	if err := c.orders.SetState(persistCtx(ctx), orderID, state); err != nil && !errors.Is(err, order.ErrNotFound) {
		c.logger.Error("Failed to record order state",
			"order_id", orderID,
			"state", state,
			"error", err)
	}
}

// publishNext queues the task for the next link, feeding it the
// previous link's cargo.
func (c *Component) publishNext(ctx context.Context, task *supplychain.LinkTask, position int, data map[string]any) error {
	next := supplychain.LinkTask{
		OrderID:       task.OrderID,
		ProcurementID: task.ProcurementID,
		UserID:        task.UserID,
		Position:      position,
		Data:          data,
	}

	baseMsg := message.NewBaseMessage(next.Schema(), &next, "link-executor")
	payload, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal link task: %w", err)
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}
	if _, err := js.Publish(ctx, c.config.TaskSubject, payload); err != nil {
		return fmt.Errorf("publish link task: %w", err)
	}
	return nil
}

// persistCtx detaches persistence writes from task cancellation so
// records survive shutdown mid-link.
func persistCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
