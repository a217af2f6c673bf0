package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/histeeria/chatcore/internal/obs"
)

// Fanout is the cross-instance forwarder hook named in the design notes: a
// Redis Pub/Sub channel other instances could publish to so a message for
// a user bound to a different instance reaches this instance's local
// session. The core dispatch pipeline does not depend on it — SendToUser
// returning false still falls back to inbox deposit regardless of whether
// a Fanout is wired — but it gives horizontal routing a landing spot
// without implementing the full routing policy, which the spec
// explicitly leaves out of core.
type Fanout struct {
	redis    *redis.Client
	gateway  *Gateway
	log      *obs.Logger
	channel  string
	cancel   context.CancelFunc
}

// fanoutMessage is published by a peer instance when it wants this
// instance to attempt a local live emit for userID.
type fanoutMessage struct {
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

// NewFanout wires a Pub/Sub forwarder over client, addressing a fixed
// channel name shared by every instance.
func NewFanout(client *redis.Client, logger *obs.Logger) *Fanout {
	return &Fanout{redis: client, log: logger, channel: "gateway:fanout"}
}

// Attach binds the Fanout to the gateway it should deliver into and starts
// its subscribe loop.
func (f *Fanout) Attach(g *Gateway) {
	f.gateway = g
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.run(ctx)
}

// Stop ends the subscribe loop.
func (f *Fanout) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Fanout) run(ctx context.Context) {
	sub := f.redis.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		f.log.Error("gateway: fanout subscribe failed: %v", err)
		return
	}
	f.log.Info("gateway: fanout subscribed to %s", f.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			f.deliver(msg.Payload)
		}
	}
}

func (f *Fanout) deliver(raw string) {
	var m fanoutMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		f.log.Warn("gateway: fanout received malformed message: %v", err)
		return
	}

	handle, ok := f.gateway.registry.HandleOf(m.UserID)
	if !ok {
		return
	}
	session, ok := handle.(*Session)
	if !ok {
		return
	}

	var payload interface{} = json.RawMessage(m.Payload)
	session.emit(payload)
}

// Publish broadcasts payload to every instance, for a local delivery
// attempt at userID. Unused by the core pipeline (no component calls it
// today, per the spec's Non-goal on horizontal routing), but kept wired so
// a future cross-instance forwarder has a working primitive to build on.
func (f *Fanout) Publish(ctx context.Context, userID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(fanoutMessage{UserID: userID, Payload: body})
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return f.redis.Publish(publishCtx, f.channel, msg).Err()
}
