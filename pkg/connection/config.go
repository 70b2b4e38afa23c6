package connection

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tickwire/tickwire/pkg/channel"
	"github.com/tickwire/tickwire/pkg/protocol"
)

// ChannelDef declares one reliability channel at configuration time.
// The kind set is closed: "ordered" or "unordered".
type ChannelDef struct {
	ID   uint8  `yaml:"id"`
	Kind string `yaml:"kind"`
}

// Config is the connection tuning surface. It is consumed by this layer,
// not owned: hosts typically load it once and share it across
// connections.
type Config struct {
	// TickDuration is the wall-clock length of one simulation tick.
	TickDuration time.Duration `yaml:"tick_duration"`

	// ResendBackoff scales the RTT estimate into the retransmission
	// interval.
	ResendBackoff float64 `yaml:"resend_backoff"`

	// MinResendInterval floors the retransmission interval.
	MinResendInterval time.Duration `yaml:"min_resend_interval"`

	// HandshakeTimeout bounds the whole handshake attempt. On expiry the
	// attempt is abandoned and no connection is created.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// HandshakeResendInterval paces handshake packet retransmission.
	HandshakeResendInterval time.Duration `yaml:"handshake_resend_interval"`

	// AssemblyTimeout bounds partial fragment reassemblies.
	AssemblyTimeout time.Duration `yaml:"assembly_timeout"`

	// MaxPayload is the transport's maximum datagram payload.
	MaxPayload int `yaml:"max_payload"`

	// HeartbeatInterval paces keepalives on an idle send path.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// PingInterval paces RTT probes on an idle link.
	PingInterval time.Duration `yaml:"ping_interval"`

	// Timeout drops a peer not heard from within this window.
	Timeout time.Duration `yaml:"timeout"`

	// DisconnectTimeout bounds the Disconnecting state when the peer is
	// unresponsive to the shutdown notice.
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`

	// AuthFailureThreshold force-closes the connection after this many
	// consecutive authentication failures.
	AuthFailureThreshold int `yaml:"auth_failure_threshold"`

	// Channels declares the reliability channels. Both peers must agree.
	Channels []ChannelDef `yaml:"channels"`
}

// DefaultConfig returns the connection defaults: one ordered channel and
// one unordered-reliable channel.
func DefaultConfig() Config {
	return Config{
		TickDuration:            50 * time.Millisecond,
		ResendBackoff:           1.5,
		MinResendInterval:       50 * time.Millisecond,
		HandshakeTimeout:        5 * time.Second,
		HandshakeResendInterval: 250 * time.Millisecond,
		AssemblyTimeout:         5 * time.Second,
		MaxPayload:              protocol.DefaultMaxPayload,
		HeartbeatInterval:       2 * time.Second,
		PingInterval:            time.Second,
		Timeout:                 10 * time.Second,
		DisconnectTimeout:       2 * time.Second,
		AuthFailureThreshold:    16,
		Channels: []ChannelDef{
			{ID: 0, Kind: "ordered"},
			{ID: 1, Kind: "unordered"},
		},
	}
}

// Duration parses YAML duration strings like "250ms" or "5s". Plain
// integers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// UnmarshalYAML decodes over the receiver, so unset fields keep the
// values already present (the defaults, when loaded via LoadConfig).
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		TickDuration            Duration     `yaml:"tick_duration"`
		ResendBackoff           float64      `yaml:"resend_backoff"`
		MinResendInterval       Duration     `yaml:"min_resend_interval"`
		HandshakeTimeout        Duration     `yaml:"handshake_timeout"`
		HandshakeResendInterval Duration     `yaml:"handshake_resend_interval"`
		AssemblyTimeout         Duration     `yaml:"assembly_timeout"`
		MaxPayload              int          `yaml:"max_payload"`
		HeartbeatInterval       Duration     `yaml:"heartbeat_interval"`
		PingInterval            Duration     `yaml:"ping_interval"`
		Timeout                 Duration     `yaml:"timeout"`
		DisconnectTimeout       Duration     `yaml:"disconnect_timeout"`
		AuthFailureThreshold    int          `yaml:"auth_failure_threshold"`
		Channels                []ChannelDef `yaml:"channels"`
	}

	r := raw{
		TickDuration:            Duration(c.TickDuration),
		ResendBackoff:           c.ResendBackoff,
		MinResendInterval:       Duration(c.MinResendInterval),
		HandshakeTimeout:        Duration(c.HandshakeTimeout),
		HandshakeResendInterval: Duration(c.HandshakeResendInterval),
		AssemblyTimeout:         Duration(c.AssemblyTimeout),
		MaxPayload:              c.MaxPayload,
		HeartbeatInterval:       Duration(c.HeartbeatInterval),
		PingInterval:            Duration(c.PingInterval),
		Timeout:                 Duration(c.Timeout),
		DisconnectTimeout:       Duration(c.DisconnectTimeout),
		AuthFailureThreshold:    c.AuthFailureThreshold,
		Channels:                c.Channels,
	}
	if err := value.Decode(&r); err != nil {
		return err
	}

	c.TickDuration = time.Duration(r.TickDuration)
	c.ResendBackoff = r.ResendBackoff
	c.MinResendInterval = time.Duration(r.MinResendInterval)
	c.HandshakeTimeout = time.Duration(r.HandshakeTimeout)
	c.HandshakeResendInterval = time.Duration(r.HandshakeResendInterval)
	c.AssemblyTimeout = time.Duration(r.AssemblyTimeout)
	c.MaxPayload = r.MaxPayload
	c.HeartbeatInterval = time.Duration(r.HeartbeatInterval)
	c.PingInterval = time.Duration(r.PingInterval)
	c.Timeout = time.Duration(r.Timeout)
	c.DisconnectTimeout = time.Duration(r.DisconnectTimeout)
	c.AuthFailureThreshold = r.AuthFailureThreshold
	c.Channels = r.Channels
	return nil
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the protocol cannot run with.
func (c *Config) Validate() error {
	if c.TickDuration <= 0 {
		return fmt.Errorf("tick_duration must be positive")
	}
	if c.MaxPayload <= protocol.HeaderSize+protocol.FragmentExtSize+protocol.NonceSize+protocol.MessageBlockOverhead {
		return fmt.Errorf("max_payload %d too small for a packet", c.MaxPayload)
	}
	if c.ResendBackoff < 1 {
		return fmt.Errorf("resend_backoff must be at least 1")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel must be configured")
	}
	seen := make(map[uint8]bool)
	for _, def := range c.Channels {
		if seen[def.ID] {
			return fmt.Errorf("duplicate channel id %d", def.ID)
		}
		seen[def.ID] = true
		if _, err := kindOf(def.Kind); err != nil {
			return err
		}
	}
	return nil
}

func kindOf(name string) (channel.Kind, error) {
	switch name {
	case "ordered":
		return channel.KindOrderedReliable, nil
	case "unordered":
		return channel.KindUnorderedReliable, nil
	default:
		return 0, fmt.Errorf("unknown channel kind %q", name)
	}
}

// channelConfig derives the per-channel knobs from the connection
// config. The packet payload budget subtracts the header, the nonce
// counter, and the AEAD tag from the datagram budget.
func (c *Config) channelConfig() channel.Config {
	const aeadTagSize = 16
	return channel.Config{
		MaxPacketPayload:  c.MaxPayload - protocol.HeaderSize - protocol.FragmentExtSize - protocol.NonceSize - aeadTagSize,
		ResendBackoff:     c.ResendBackoff,
		MinResendInterval: c.MinResendInterval,
		AssemblyTimeout:   c.AssemblyTimeout,
	}
}
