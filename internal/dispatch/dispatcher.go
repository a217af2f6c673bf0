// Package dispatch implements the Dispatcher consume path: reading the
// durable queue, deciding between live delivery and inbox deposit, and
// routing each item to a worker shard chosen by receiverId. The queue
// consumer hands over one item at a time and waits for its result before
// reading the next, so items are processed sequentially in enqueue order;
// distinct recipients are not dispatched in parallel.
package dispatch

import (
	"context"
	"hash/fnv"

	"go.opentelemetry.io/otel/trace"

	"github.com/histeeria/chatcore/internal/chat"
	"github.com/histeeria/chatcore/internal/inbox"
	"github.com/histeeria/chatcore/internal/obs"
	"github.com/histeeria/chatcore/internal/queue"
)

// SessionSender is the Session Gateway's side of the Dispatcher's contract:
// attempt a live emit to userId, reporting whether a local session existed
// and the send was attempted.
type SessionSender interface {
	SendToUser(ctx context.Context, userID string, event chat.IncomingMessageEvent) bool
}

// Dispatcher runs the single consumer loop and fans work out to
// receiverId-sharded workers.
type Dispatcher struct {
	queue   queue.Queue
	inbox   *inbox.Cache
	gateway SessionSender
	metrics *obs.Metrics
	log     *obs.Logger
	tracer  trace.Tracer

	shards []chan dispatchJob
}

type dispatchJob struct {
	item     queue.Item
	resultCh chan error
}

// New creates a Dispatcher with shardCount in-process worker shards. A nil
// tracer falls back to a no-op tracer.
func New(q queue.Queue, ib *inbox.Cache, gateway SessionSender, shardCount int, metrics *obs.Metrics, logger *obs.Logger, tracer trace.Tracer) *Dispatcher {
	if shardCount <= 0 {
		shardCount = 1
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("")
	}
	d := &Dispatcher{
		queue:   q,
		inbox:   ib,
		gateway: gateway,
		metrics: metrics,
		log:     logger,
		tracer:  tracer,
		shards:  make([]chan dispatchJob, shardCount),
	}
	for i := range d.shards {
		d.shards[i] = make(chan dispatchJob, 64)
	}
	return d
}

// Run starts the shard workers and the queue consumer loop; it blocks until
// ctx is cancelled or the queue consumer exits.
func (d *Dispatcher) Run(ctx context.Context) error {
	for i, shard := range d.shards {
		go d.runShard(ctx, i, shard)
	}
	return d.queue.Consume(ctx, d.handle)
}

// handle is invoked by the queue consumer loop for each dequeued item; it
// hands the item to its shard and blocks for the shard's result, so the
// queue's ack/nack decision reflects the actual processing outcome.
func (d *Dispatcher) handle(ctx context.Context, item queue.Item) error {
	if d.metrics != nil {
		if depth, err := d.queue.Depth(ctx); err == nil {
			d.metrics.SetQueueDepth(depth)
		}
	}

	resultCh := make(chan error, 1)
	shard := d.shards[shardFor(item.ReceiverID, len(d.shards))]

	select {
	case shard <- dispatchJob{item: item, resultCh: resultCh}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) runShard(ctx context.Context, shardIdx int, ch chan dispatchJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-ch:
			job.resultCh <- d.process(ctx, job.item)
		}
	}
}

// process is the body of §4.6: check presence, attempt live delivery,
// otherwise deposit to the offline inbox. Any error here propagates up as
// a queue nack-with-requeue.
func (d *Dispatcher) process(ctx context.Context, item queue.Item) error {
	isOnline, err := d.inbox.IsUserOnline(ctx, item.ReceiverID)
	if err != nil {
		if d.metrics != nil {
			d.metrics.DispatchError("presence_check")
		}
		return err
	}

	if isOnline {
		event := chat.NewIncomingMessageEvent(item.MessageID, item.SenderID, item.Content, item.Timestamp.UnixMilli())
		sendCtx, sendSpan := d.tracer.Start(ctx, "gateway.send")
		delivered := d.gateway.SendToUser(sendCtx, item.ReceiverID, event)
		sendSpan.End()
		if delivered {
			if d.metrics != nil {
				d.metrics.DeliveredLive()
			}
			return nil
		}
		// Presence hint was stale (other instance, or disconnected mid-TTL):
		// fall through to offline deposit per §4.6 step 2 / scenario S6.
	}

	return d.depositOffline(ctx, item)
}

func (d *Dispatcher) depositOffline(ctx context.Context, item queue.Item) error {
	alreadyPresent, err := d.inbox.Contains(ctx, item.ReceiverID, item.MessageID)
	if err != nil {
		if d.metrics != nil {
			d.metrics.DispatchError("inbox_check")
		}
		return err
	}

	if !alreadyPresent {
		addCtx, addSpan := d.tracer.Start(ctx, "inbox.add")
		err := d.inbox.AddToInbox(addCtx, item.ReceiverID, item.MessageID)
		addSpan.End()
		if err != nil {
			if d.metrics != nil {
				d.metrics.DispatchError("inbox_add")
			}
			return err
		}
	}

	if err := d.inbox.CacheMessage(ctx, item.MessageID, item.SenderID, item.ReceiverID, item.Content, item.Timestamp); err != nil {
		// Short-horizon fast-fetch cache is best-effort; the durable store
		// remains authoritative, so a failure here does not nack the item.
		d.log.Warn("CacheMessage failed for %s: %v", item.MessageID, err)
	}

	if d.metrics != nil {
		d.metrics.Deposited()
	}
	return nil
}

func shardFor(receiverID string, shardCount int) int {
	h := fnv.New32a()
	h.Write([]byte(receiverID))
	return int(h.Sum32()) % shardCount
}
