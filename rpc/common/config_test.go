package common

import (
	"testing"
	"time"
)

func TestToClientPolicy(t *testing.T) {
	config := ClientConfig{
		Hosts:                []string{"node1:3000", "node2:3000"},
		ClusterName:          "prod",
		TimeoutSecond:        7,
		TendIntervalMS:       250,
		UseServicesAlternate: true,
		Pool: PoolConfig{
			ConnectionsPerNode: 4,
			AcquireTimeoutMS:   150,
			IdleTimeoutSec:     30,
		},
		Auth: AuthConfig{User: "tester", Password: "secret"},
	}

	p := config.ToClientPolicy()

	if p.ClusterName != "prod" {
		t.Errorf("expected cluster name prod, got %q", p.ClusterName)
	}
	if p.Timeout != 7*time.Second {
		t.Errorf("expected timeout 7s, got %v", p.Timeout)
	}
	if p.TendInterval != 250*time.Millisecond {
		t.Errorf("expected tend interval 250ms, got %v", p.TendInterval)
	}
	if !p.UseServicesAlternate {
		t.Error("expected services alternate to be enabled")
	}
	if p.ConnectionQueueSize != 4 {
		t.Errorf("expected pool capacity 4, got %d", p.ConnectionQueueSize)
	}
	if p.AcquireTimeout != 150*time.Millisecond {
		t.Errorf("expected acquire timeout 150ms, got %v", p.AcquireTimeout)
	}
	if p.IdleTimeout != 30*time.Second {
		t.Errorf("expected idle timeout 30s, got %v", p.IdleTimeout)
	}
	if p.User != "tester" || p.Password != "secret" {
		t.Errorf("credentials not carried over, got %q/%q", p.User, p.Password)
	}
	if !p.RequiresAuthentication() {
		t.Error("expected authentication to be required")
	}
}

func TestToClientPolicyDefaults(t *testing.T) {
	// zero values must not override the policy defaults
	p := (&ClientConfig{}).ToClientPolicy()

	if p.Timeout == 0 {
		t.Error("zero config timeout must keep the policy default")
	}
	if p.AcquireTimeout != 0 {
		t.Errorf("acquire timeout must stay unset, got %v", p.AcquireTimeout)
	}
	if p.ConnectionQueueSize == 0 {
		t.Error("zero pool size must keep the policy default")
	}
}
