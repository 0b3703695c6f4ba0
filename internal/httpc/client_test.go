package httpc

import (
	"testing"
	"time"
)

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient(0)
	if c.Timeout != DefaultTimeout {
		t.Errorf("timeout: got %v, want %v", c.Timeout, DefaultTimeout)
	}
	if c.Transport == nil {
		t.Error("transport not set")
	}
}

func TestNewStreamingClient_NoOverallTimeout(t *testing.T) {
	c := NewStreamingClient(5 * time.Second)
	if c.Timeout != 0 {
		t.Errorf("streaming client must not set an overall timeout, got %v", c.Timeout)
	}
}
