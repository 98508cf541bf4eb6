package state

import "testing"

func TestPermissionTable(t *testing.T) {
	cases := []struct {
		s                State
		send, unbind, recv bool
	}{
		{Open, true, true, true},
		{Unbinding, false, false, true},
		{Closed, false, false, false},
	}
	for _, c := range cases {
		if got := c.s.CanSend(); got != c.send {
			t.Errorf("%s.CanSend() = %v, want %v", c.s, got, c.send)
		}
		if got := c.s.CanUnbind(); got != c.unbind {
			t.Errorf("%s.CanUnbind() = %v, want %v", c.s, got, c.unbind)
		}
		if got := c.s.CanReceive(); got != c.recv {
			t.Errorf("%s.CanReceive() = %v, want %v", c.s, got, c.recv)
		}
	}
}

func TestUnbindingOnlyAcceptsControlPDUs(t *testing.T) {
	if Unbinding.CanReceiveDuringUnbind(false) {
		t.Fatal("expected non-control PDU to be rejected while unbinding")
	}
	if !Unbinding.CanReceiveDuringUnbind(true) {
		t.Fatal("expected control PDU to be accepted while unbinding")
	}
	if !Open.CanReceiveDuringUnbind(false) {
		t.Fatal("Open should accept everything regardless of the control flag")
	}
}

func TestTransitions(t *testing.T) {
	if got := Open.Next(TriggerLocalUnbind); got != Unbinding {
		t.Fatalf("Open.Next(local unbind) = %s, want unbinding", got)
	}
	if got := Open.Next(TriggerUnbindReqReceived); got != Unbinding {
		t.Fatalf("Open.Next(unbind_req) = %s, want unbinding", got)
	}
	if got := Unbinding.Next(TriggerLocalUnbind); got != Unbinding {
		t.Fatalf("Unbinding.Next(local unbind) = %s, want unbinding (no-op)", got)
	}
	if got := Open.Next(TriggerClose); got != Closed {
		t.Fatalf("Open.Next(close) = %s, want closed", got)
	}
	if got := Unbinding.Next(TriggerClose); got != Closed {
		t.Fatalf("Unbinding.Next(close) = %s, want closed", got)
	}
	if got := Closed.Next(TriggerClose); got != Closed {
		t.Fatalf("Closed is terminal, got %s", got)
	}
	if got := Closed.Next(TriggerLocalUnbind); got != Closed {
		t.Fatalf("Closed is terminal, got %s", got)
	}
}

func TestStringer(t *testing.T) {
	if Open.String() != "open" || Unbinding.String() != "unbinding" || Closed.String() != "closed" {
		t.Fatal("unexpected State.String() values")
	}
}
