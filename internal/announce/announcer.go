// Package announce publishes map status and lifecycle events over MQTT so
// downstream consumers (dashboards, fleet controllers) can follow the mapper
// without polling its HTTP API.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/gridmap/internal/mapping"
	"github.com/banshee-data/gridmap/internal/monitoring"
	"github.com/banshee-data/gridmap/internal/timeutil"
)

// Options configures the announcer. An empty Broker disables announcements
// entirely; New returns (nil, nil) in that case and a nil *Announcer is safe
// to Run.
type Options struct {
	// Broker is the MQTT broker URL, e.g. "tcp://localhost:1883".
	Broker string
	// ClientID defaults to "gridmap-mapper".
	ClientID string
	// Username and Password are optional broker credentials.
	Username string
	Password string
	// Prefix is the topic prefix; defaults to "gridmap". Topics are
	// <prefix>/<mapID>/stats and <prefix>/<mapID>/events.
	Prefix string
	// Interval is how often to publish the stats message; defaults to 10s.
	Interval time.Duration
	// Clock is optional; if nil, uses the real clock.
	Clock timeutil.Clock
}

// Announcer publishes a retained stats document on a ticker and emits event
// messages when the map extends, recentres, or persists a snapshot. It owns
// the broker connection; publishing while disconnected is skipped quietly
// and resumes once the auto-reconnect succeeds.
type Announcer struct {
	client   mqtt.Client
	manager  *mapping.MapManager
	prefix   string
	interval time.Duration
	clock    timeutil.Clock

	mu          sync.RWMutex
	isConnected bool

	// Last counters seen by the event loop. Seeded at construction so
	// state that predates the announcer does not fire startup events.
	lastExtensions int64
	lastRecenters  int64
	lastSnapshotID int64
}

// New builds an announcer for the given manager. Returns (nil, nil) when no
// broker is configured, so callers can treat announcements as strictly
// optional.
func New(manager *mapping.MapManager, opts Options) (*Announcer, error) {
	if opts.Broker == "" {
		monitoring.Logf("[Announcer] disabled: no MQTT broker configured")
		return nil, nil
	}
	if manager == nil {
		return nil, fmt.Errorf("announcer requires a map manager")
	}

	a := newAnnouncerWithClient(nil, manager, opts)

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "gridmap-mapper"
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(clientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}

	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(60 * time.Second)
	co.SetKeepAlive(60 * time.Second)
	co.SetPingTimeout(10 * time.Second)
	co.SetCleanSession(true)

	co.SetOnConnectHandler(a.onConnect)
	co.SetConnectionLostHandler(a.onConnectionLost)
	co.SetReconnectingHandler(a.onReconnecting)

	a.client = mqtt.NewClient(co)
	return a, nil
}

// newAnnouncerWithClient wires an announcer around a provided client. Used
// directly by tests with a mock client.
func newAnnouncerWithClient(client mqtt.Client, manager *mapping.MapManager, opts Options) *Announcer {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "gridmap"
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	a := &Announcer{
		client:   client,
		manager:  manager,
		prefix:   prefix,
		interval: interval,
		clock:    clock,
	}
	if manager != nil {
		st := manager.Status()
		a.lastExtensions = st.Extensions.Total()
		a.lastRecenters = st.Recenters
		if st.SnapshotID != nil {
			a.lastSnapshotID = *st.SnapshotID
		}
	}
	return a
}

// Run connects to the broker and publishes until the context is cancelled.
// A nil announcer (broker not configured) returns immediately.
func (a *Announcer) Run(ctx context.Context) error {
	if a == nil {
		return nil
	}

	go a.connectWithRetry(ctx)

	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	monitoring.Logf("[Announcer] started: topics %s/%s/{stats,events} every %v",
		a.prefix, a.manager.MapID, a.interval)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[Announcer] stopping due to context cancellation")
			a.PublishEvent("stopped", nil)
			a.Disconnect()
			return nil
		case <-ticker.C():
			a.publishTick()
		}
	}
}

// connectWithRetry attempts the initial broker connection with exponential
// backoff. Once connected, paho's auto-reconnect owns the session.
func (a *Announcer) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		monitoring.Logf("[Announcer] connecting to MQTT broker...")

		token := a.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				monitoring.Logf("[Announcer] connected to MQTT broker")
				a.setConnected(true)
				return
			}
			monitoring.Logf("[Announcer] MQTT connection failed: %v", token.Error())
		} else {
			monitoring.Logf("[Announcer] MQTT connection timeout")
		}

		monitoring.Logf("[Announcer] retrying MQTT connection in %v", retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (a *Announcer) onConnect(client mqtt.Client) {
	a.setConnected(true)
}

func (a *Announcer) onConnectionLost(client mqtt.Client, err error) {
	monitoring.Logf("[Announcer] MQTT connection interrupted (%v), auto-reconnect will retry", err)
	a.setConnected(false)
}

func (a *Announcer) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	monitoring.Logf("[Announcer] MQTT reconnecting...")
}

// publishTick publishes the stats document and any events implied by counter
// movement since the previous tick.
func (a *Announcer) publishTick() {
	if a.client == nil || !a.client.IsConnected() {
		return
	}

	st := a.manager.Status()
	a.publishStats(st)

	if total := st.Extensions.Total(); total != a.lastExtensions {
		a.PublishEvent("extended", map[string]interface{}{
			"extensions": st.Extensions,
			"origin_x":   st.OriginX,
			"origin_y":   st.OriginY,
		})
		a.lastExtensions = total
	}
	if st.Recenters != a.lastRecenters {
		a.PublishEvent("recentered", map[string]interface{}{
			"origin_x": st.OriginX,
			"origin_y": st.OriginY,
		})
		a.lastRecenters = st.Recenters
	}
	if st.SnapshotID != nil && *st.SnapshotID != a.lastSnapshotID {
		a.PublishEvent("snapshot_saved", map[string]interface{}{
			"snapshot_id": *st.SnapshotID,
		})
		a.lastSnapshotID = *st.SnapshotID
	}
}

// publishStats publishes the retained stats document.
func (a *Announcer) publishStats(st mapping.Status) {
	payload, err := json.Marshal(map[string]interface{}{
		"map":        st,
		"grid":       a.manager.Stats(),
		"unix_nanos": a.clock.Now().UnixNano(),
	})
	if err != nil {
		monitoring.Logf("[Announcer] error marshaling stats: %v", err)
		return
	}

	topic := fmt.Sprintf("%s/%s/stats", a.prefix, a.manager.MapID)
	token := a.client.Publish(topic, 0, true, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		monitoring.Logf("[Announcer] error publishing to %s: %v", topic, token.Error())
	}
}

// PublishEvent publishes one event message. The daemon calls this directly
// for lifecycle events ("started", "stopped"); the tick loop calls it for
// map-state events. Events are not retained. Safe on a nil announcer.
func (a *Announcer) PublishEvent(kind string, fields map[string]interface{}) {
	if a == nil || a.client == nil || !a.client.IsConnected() {
		return
	}

	msg := map[string]interface{}{
		"event":      kind,
		"map_id":     a.manager.MapID,
		"session_id": a.manager.SessionID.String(),
		"unix_nanos": a.clock.Now().UnixNano(),
	}
	for k, v := range fields {
		msg[k] = v
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		monitoring.Logf("[Announcer] error marshaling %s event: %v", kind, err)
		return
	}

	topic := fmt.Sprintf("%s/%s/events", a.prefix, a.manager.MapID)
	token := a.client.Publish(topic, 0, false, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		monitoring.Logf("[Announcer] error publishing to %s: %v", topic, token.Error())
	}
}

// IsConnected reports whether the broker connection is up.
func (a *Announcer) IsConnected() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isConnected
}

func (a *Announcer) setConnected(connected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.isConnected = connected
}

// Disconnect closes the broker connection after a short quiesce.
func (a *Announcer) Disconnect() {
	if a == nil {
		return
	}
	if a.client != nil && a.client.IsConnected() {
		monitoring.Logf("[Announcer] disconnecting from MQTT broker...")
		a.client.Disconnect(250)
		a.setConnected(false)
	}
}
