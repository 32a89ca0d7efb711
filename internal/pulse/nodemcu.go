package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// CoinTopic is the topic NodeMCU sub-controllers publish pulses on; the
// wildcard segment is the device MAC.
const CoinTopic = "pisowifi/coin/+"

// nodemcuReport is the wire payload a sub-controller publishes per
// detected coin burst.
type nodemcuReport struct {
	MACAddress   string `json:"macAddress"`
	AuthKey      string `json:"authenticationKey"`
	Denomination int    `json:"denomination"`
}

// NodeMCUSource receives pulses from networked sub-controllers over
// MQTT.  Each accepted report becomes a raw pulse on the slot named by
// the device MAC; unauthorized devices are dropped at the edge.
type NodeMCUSource struct {
	Client  MQTT.Client
	Devices *DeviceRegistry
	QOS     byte
	Logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNodeMCUSource builds a source on an already-connected MQTT client.
func NewNodeMCUSource(client MQTT.Client, devices *DeviceRegistry, qos byte, logger zerolog.Logger) *NodeMCUSource {
	return &NodeMCUSource{
		Client:  client,
		Devices: devices,
		QOS:     qos,
		Logger:  logger,
	}
}

func (s *NodeMCUSource) Name() string { return "nodemcu-mqtt" }

// Start subscribes to the coin topic.  Pulses flow from the paho
// callback into sink; a full sink drops the pulse rather than blocking
// the MQTT read loop.
func (s *NodeMCUSource) Start(ctx context.Context, sink chan<- RawPulse) error {
	if s.ctx != nil {
		return errors.New("nodemcu source is already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	token := s.Client.Subscribe(CoinTopic, s.QOS, func(_ MQTT.Client, msg MQTT.Message) {
		s.handleReport(msg.Payload(), sink)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		s.cancel()
		s.ctx = nil
		s.cancel = nil
		return fmt.Errorf("subscribe %s: %w", CoinTopic, err)
	}

	s.Logger.Info().Str("topic", CoinTopic).Msg("nodemcu pulse source subscribed")
	return nil
}

func (s *NodeMCUSource) handleReport(payload []byte, sink chan<- RawPulse) {
	var report nodemcuReport
	if err := json.Unmarshal(payload, &report); err != nil {
		s.Logger.Warn().Err(err).Msg("malformed nodemcu report")
		return
	}
	if report.Denomination <= 0 {
		return
	}
	device, err := s.Devices.Authorize(report.MACAddress, report.AuthKey)
	if err != nil {
		s.Logger.Warn().Str("mac", report.MACAddress).Msg("pulse rejected: device not authorized")
		return
	}

	p := RawPulse{SlotID: device.MACAddress, Denomination: report.Denomination, At: time.Now()}
	select {
	case sink <- p:
	default:
		s.Logger.Warn().Str("mac", device.MACAddress).Msg("pulse dropped: sink full")
	}
}

// Stop unsubscribes from the coin topic.
func (s *NodeMCUSource) Stop() error {
	if s.ctx == nil {
		return errors.New("nodemcu source is not running")
	}
	token := s.Client.Unsubscribe(CoinTopic)
	token.Wait()
	s.cancel()
	s.ctx = nil
	s.cancel = nil
	return token.Error()
}
