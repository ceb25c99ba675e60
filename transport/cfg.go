package transport

import (
	"fmt"
	"time"
)

// Default values applied by Validate when a field is zero.
const (
	_defaultMaximumClients = 4095
	_defaultTimeoutMillis  = 15000
	_defaultUnreliableMTU  = 1023
	_defaultFragmentedMTU  = 1 << 20
	_defaultClientAddress  = "127.0.0.1"
)

// TransportCfg is the "transport" config section. It is loaded through the
// config manager and hot reloaded; a reloaded config takes effect on the
// next socket start, except the rate limits, which apply immediately.
type TransportCfg struct {
	// Port is the server listen port, or the remote port a client dials.
	// Zero lets the server bind an ephemeral port.
	Port uint16 `mapstructure:"port"`

	// ClientAddress is the address a client-role socket dials when Start is
	// called without an explicit address.
	ClientAddress string `mapstructure:"clientaddress"`

	// BindAddressIPv4 is the server's IPv4 listen address. Empty binds all
	// interfaces. A non-IP value is resolved through DNS.
	BindAddressIPv4 string `mapstructure:"bindaddressipv4"`

	// BindAddressIPv6 is the server's IPv6 listen address, used only when
	// EnableIPv6 is set. Empty binds all interfaces.
	BindAddressIPv6 string `mapstructure:"bindaddressipv6"`

	// EnableIPv6 adds an IPv6 listener next to the IPv4 one.
	EnableIPv6 bool `mapstructure:"enableipv6"`

	// MaximumClients caps concurrent server connections. Admissions at or
	// over the cap are rejected during the handshake.
	MaximumClients int `mapstructure:"maximumclients"`

	// TimeoutMilliseconds is the idle interval after which a silent peer is
	// dropped.
	TimeoutMilliseconds int `mapstructure:"timeoutmilliseconds"`

	// DoNotRoute restricts traffic to directly connected hosts.
	DoNotRoute bool `mapstructure:"donotroute"`

	// UnreliableMTU caps one unreliable payload. Oversized outbound packets
	// are upgraded to the reliable channel; oversized inbound ones get the
	// sender kicked.
	UnreliableMTU int `mapstructure:"unreliablemtu"`

	// UnreliableMTUFragmented caps one reliable payload, which the engine may
	// split across datagrams. Outbound packets over this limit are dropped
	// with an error log.
	UnreliableMTUFragmented int `mapstructure:"unreliablemtufragmented"`

	// ConnectKey must match between dialer and listener. Empty disables the
	// key check.
	ConnectKey string `mapstructure:"connectkey"`

	// ConnectionRequestRate caps admission handshakes per second on the
	// server. Zero disables the limiter.
	ConnectionRequestRate int `mapstructure:"connectionrequestrate"`

	// ConnectionRequestBurst is the admission token bucket burst.
	ConnectionRequestBurst int `mapstructure:"connectionrequestburst"`

	// InboundPacketsPerSecond paces inbound packet delivery to the consumer.
	// Zero disables pacing.
	InboundPacketsPerSecond int `mapstructure:"inboundpacketspersecond"`

	// ServiceName registers the server socket with consul under this name
	// whenever the server reaches Started. Empty disables registration.
	ServiceName string `mapstructure:"servicename"`

	// ConsulAddress overrides the consul agent address. Empty uses the
	// agent's defaults (CONSUL_HTTP_ADDR or localhost).
	ConsulAddress string `mapstructure:"consuladdress"`
}

// NewDefaultTransportCfg returns a config with every default applied.
func NewDefaultTransportCfg() *TransportCfg {
	cfg := &TransportCfg{}
	_ = cfg.Validate()
	return cfg
}

// GetName returns the config section name.
func (c *TransportCfg) GetName() string {
	return "transport"
}

// Validate applies defaults and rejects out-of-range values.
func (c *TransportCfg) Validate() error {
	if c.ClientAddress == "" {
		c.ClientAddress = _defaultClientAddress
	}
	if c.MaximumClients == 0 {
		c.MaximumClients = _defaultMaximumClients
	}
	if c.MaximumClients < 0 {
		return fmt.Errorf("transport: maximumclients %d is negative", c.MaximumClients)
	}
	if c.TimeoutMilliseconds == 0 {
		c.TimeoutMilliseconds = _defaultTimeoutMillis
	}
	if c.TimeoutMilliseconds < 0 {
		return fmt.Errorf("transport: timeoutmilliseconds %d is negative", c.TimeoutMilliseconds)
	}
	if c.UnreliableMTU == 0 {
		c.UnreliableMTU = _defaultUnreliableMTU
	}
	if c.UnreliableMTU < 0 {
		return fmt.Errorf("transport: unreliablemtu %d is negative", c.UnreliableMTU)
	}
	if c.UnreliableMTUFragmented == 0 {
		c.UnreliableMTUFragmented = _defaultFragmentedMTU
	}
	if c.UnreliableMTUFragmented < c.UnreliableMTU {
		return fmt.Errorf("transport: unreliablemtufragmented %d is below unreliablemtu %d",
			c.UnreliableMTUFragmented, c.UnreliableMTU)
	}
	if c.ConnectionRequestRate < 0 || c.ConnectionRequestBurst < 0 {
		return fmt.Errorf("transport: connection request rate limits must not be negative")
	}
	if c.ConnectionRequestRate > 0 && c.ConnectionRequestBurst == 0 {
		c.ConnectionRequestBurst = c.ConnectionRequestRate
	}
	if c.InboundPacketsPerSecond < 0 {
		return fmt.Errorf("transport: inboundpacketspersecond %d is negative", c.InboundPacketsPerSecond)
	}
	return nil
}

// Timeout returns the peer idle timeout as a duration.
func (c *TransportCfg) Timeout() time.Duration {
	return time.Duration(c.TimeoutMilliseconds) * time.Millisecond
}
