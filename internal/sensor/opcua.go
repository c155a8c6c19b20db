package sensor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/turbine-shutdown/backend/internal/models"
)

// OPCUAConfig captures the runtime details required to open an OPC UA session.
type OPCUAConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	PlantID          int64         `yaml:"plant_id"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	MaxRetry         int           `yaml:"max_retry"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps a monitored node to a procedure parameter.
type NodeConfig struct {
	NodeID    string `yaml:"node_id"`
	Parameter string `yaml:"parameter"`
	Unit      string `yaml:"unit"`
}

// ApplyDefaults fills unset fields.
func (c *OPCUAConfig) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "Turbine Shutdown Engine"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = time.Second
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 5 * time.Second
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 3
	}
	for i := range c.Nodes {
		if c.Nodes[i].Parameter == "" {
			c.Nodes[i].Parameter = c.Nodes[i].NodeID
		}
	}
}

// Validate checks the settings needed to connect.
func (c *OPCUAConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.PlantID <= 0 {
		return errors.New("plant_id is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for _, n := range c.Nodes {
		if _, err := ua.ParseNodeID(n.NodeID); err != nil {
			return fmt.Errorf("node %q: %w", n.NodeID, err)
		}
	}
	return nil
}

// OPCUAFeed subscribes to plant instrumentation and pushes every data change
// into a Snapshot.
type OPCUAFeed struct {
	cfg       OPCUAConfig
	snapshot  *Snapshot
	log       *zap.SugaredLogger
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig
	mu        sync.Mutex
	started   bool
}

// NewOPCUAFeed validates the configuration and creates an idle feed.
func NewOPCUAFeed(cfg OPCUAConfig, snapshot *Snapshot, log *zap.SugaredLogger) (*OPCUAFeed, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &OPCUAFeed{cfg: cfg, snapshot: snapshot, log: log}, nil
}

// Start connects, retrying up to MaxRetry times with InitialDelay between
// attempts, and begins consuming notifications.
func (f *OPCUAFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("opcua feed already started")
	}
	f.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())

	var client *opcua.Client
	var err error
	for attempt := 1; attempt <= f.cfg.MaxRetry; attempt++ {
		client, err = f.connect(ctx)
		if err == nil {
			break
		}
		f.log.Warnw("OPC UA connect failed", "endpoint", f.cfg.Endpoint, "attempt", attempt, "maxRetry", f.cfg.MaxRetry, "error", err)
		if attempt == f.cfg.MaxRetry {
			break
		}
		select {
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		case <-time.After(f.cfg.InitialDelay):
		}
	}
	if err != nil {
		cancel()
		return err
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(f.cfg.Nodes)*4)
	sub, err := client.Subscribe(runCtx, &opcua.SubscriptionParameters{
		Interval: f.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap := make(map[uint32]NodeConfig, len(f.cfg.Nodes))
	for i, node := range f.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			f.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if f.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(f.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(runCtx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			f.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			f.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed", node.NodeID)
		}
		handleMap[handle] = node
	}

	f.mu.Lock()
	f.client = client
	f.sub = sub
	f.cancel = cancel
	f.handleMap = handleMap
	f.started = true
	f.mu.Unlock()

	f.wg.Add(1)
	go f.consume(runCtx, notifyCh)
	f.log.Infow("OPC UA feed started", "endpoint", f.cfg.Endpoint, "plant", f.cfg.PlantID, "nodes", len(handleMap))
	return nil
}

// Stop cancels the subscription and closes the client.
func (f *OPCUAFeed) Stop() error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	cancel, sub, client := f.cancel, f.sub, f.client
	f.started = false
	f.cancel, f.sub, f.client = nil, nil, nil
	f.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	f.wg.Wait()
	return err
}

func (f *OPCUAFeed) connect(ctx context.Context) (*opcua.Client, error) {
	client, err := opcua.NewClient(f.cfg.Endpoint, f.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}
	return client, nil
}

func (f *OPCUAFeed) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				f.log.Warnw("OPC UA notification error", "error", notif.Error)
				continue
			}
			if data, ok := notif.Value.(*ua.DataChangeNotification); ok {
				f.snapshot.Update(f.cfg.PlantID, f.samples(data)...)
			}
		}
	}
}

// samples converts a data change notification into sensor samples. Source
// timestamps ahead of the local clock beyond the snapshot's skew are replaced
// by the receive time.
func (f *OPCUAFeed) samples(data *ua.DataChangeNotification) []models.SensorSample {
	out := make([]models.SensorSample, 0, len(data.MonitoredItems))
	for _, item := range data.MonitoredItems {
		node, ok := f.handleMap[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		v, ok := variantToFloat(item.Value.Value)
		if !ok {
			f.log.Debugw("Skipping node with unsupported type", "node", node.NodeID)
			continue
		}
		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		now := time.Now()
		if ts.IsZero() {
			ts = now
		}
		if (models.SensorSample{Timestamp: ts}).FutureDated(now, f.snapshot.MaxSkew()) {
			f.log.Debugw("Clamping future source timestamp", "node", node.NodeID, "source", ts)
			ts = now
		}
		out = append(out, models.SensorSample{
			Parameter: node.Parameter,
			Value:     v,
			Unit:      node.Unit,
			Timestamp: ts,
			Quality:   QualityFromStatus(item.Value.Status),
		})
	}
	return out
}

func (f *OPCUAFeed) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(f.cfg.SecurityMode)),
		opcua.SecurityPolicy(f.cfg.SecurityPolicy),
		opcua.ApplicationName(f.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if f.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(f.cfg.Username, f.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (f *OPCUAFeed) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

// QualityFromStatus maps the severity bits of an OPC UA status code to a
// sample quality: good 1, uncertain 0.5, bad 0.
func QualityFromStatus(code ua.StatusCode) float64 {
	switch uint32(code) >> 30 {
	case 0:
		return 1
	case 1:
		return 0.5
	default:
		return 0
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}
