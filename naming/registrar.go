// Package naming registers transport endpoints with consul so game clients
// and matchmakers can discover running servers.
package naming

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/consul/api"

	"github.com/lcx/nagare/log"
)

const (
	_retryInitialInterval = 200 * time.Millisecond
	_retryMaxElapsed      = 10 * time.Second
)

// Registrar registers one service instance with the local consul agent and
// deregisters it on shutdown. Registration is retried with exponential
// backoff; a consul agent restarting during server boot should not fail the
// transport.
type Registrar struct {
	client    *api.Client
	serviceID string
}

// NewRegistrar connects to the consul agent. address overrides the default
// agent address when non-empty.
func NewRegistrar(address string) (*Registrar, error) {
	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("naming: consul client: %w", err)
	}
	return &Registrar{client: client}, nil
}

func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = _retryInitialInterval
	b.MaxElapsedTime = _retryMaxElapsed
	return b
}

// Register announces the service under serviceName at the given UDP port.
// The instance id embeds the hostname and port so several servers on one
// host stay distinct.
func (r *Registrar) Register(serviceName string, port int) error {
	host, _ := os.Hostname()
	r.serviceID = fmt.Sprintf("%s-%s-%d", serviceName, host, port)

	reg := &api.AgentServiceRegistration{
		ID:   r.serviceID,
		Name: serviceName,
		Port: port,
		Tags: []string{"udp", "transport"},
		Meta: map[string]string{
			"protocol": "rudp",
		},
	}

	err := backoff.Retry(func() error {
		return r.client.Agent().ServiceRegister(reg)
	}, retryPolicy())
	if err != nil {
		return fmt.Errorf("naming: register %s: %w", serviceName, err)
	}

	log.Info().Str("service", serviceName).Str("id", r.serviceID).Int("port", port).
		Msg("service registered")
	return nil
}

// Deregister withdraws the instance registered by Register. Calling it
// without a prior Register is a no-op.
func (r *Registrar) Deregister() error {
	if r.serviceID == "" {
		return nil
	}
	id := r.serviceID
	r.serviceID = ""

	err := backoff.Retry(func() error {
		return r.client.Agent().ServiceDeregister(id)
	}, retryPolicy())
	if err != nil {
		return fmt.Errorf("naming: deregister %s: %w", id, err)
	}

	log.Info().Str("id", id).Msg("service deregistered")
	return nil
}

// Lookup returns the healthy instances currently registered under
// serviceName.
func (r *Registrar) Lookup(serviceName string) ([]*api.ServiceEntry, error) {
	entries, _, err := r.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("naming: lookup %s: %w", serviceName, err)
	}
	return entries, nil
}
