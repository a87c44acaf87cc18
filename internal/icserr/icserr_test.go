package icserr

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(InvalidConfig, "bad port %d", 99999)
	if err.Error() != "InvalidConfig: bad port 99999" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	wrapped := Wrap(UnknownDevice, err, "lookup failed")
	if wrapped.Error() != "UnknownDevice: lookup failed: InvalidConfig: bad port 99999" {
		t.Errorf("unexpected wrapped message: %s", wrapped.Error())
	}
	if Of(wrapped, InvalidConfig) {
		t.Errorf("expected Of to report wrapped's own Kind (UnknownDevice), not the wrapped error's")
	}
}

func TestOf(t *testing.T) {
	err := New(TopologyInvalid, "membership references unknown network %q", "plant")
	if !Of(err, TopologyInvalid) {
		t.Errorf("expected Of to match TopologyInvalid")
	}
	if Of(err, BindFailed) {
		t.Errorf("expected Of not to match BindFailed")
	}
	if Of(errors.New("plain error"), TopologyInvalid) {
		t.Errorf("expected Of to return false for a non-kernel error")
	}
}

func TestWithDeviceAndKey(t *testing.T) {
	err := New(TypeMismatch, "write rejected").WithDevice("turbine_plc_1").WithKey("holding:5")
	if err.Device != "turbine_plc_1" {
		t.Errorf("expected device to be set, got %q", err.Device)
	}
	if err.Key != "holding:5" {
		t.Errorf("expected key to be set, got %q", err.Key)
	}
	if err.Error() != `TypeMismatch device=turbine_plc_1 key=holding:5: write rejected` {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(BindFailed, inner, "modbus listener")
	if errors.Unwrap(err) != inner {
		t.Errorf("expected Unwrap to return the wrapped error")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		InvalidConfig:   "InvalidConfig",
		UnknownDevice:   "UnknownDevice",
		DuplicateDevice: "DuplicateDevice",
		TypeMismatch:    "TypeMismatch",
		TopologyInvalid: "TopologyInvalid",
		BindFailed:      "BindFailed",
		ProtocolError:   "ProtocolError",
		DeviceFaulted:   "DeviceFaulted",
		InvalidMode:     "InvalidMode",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
	if Kind(999).String() != "Unknown" {
		t.Errorf("expected out-of-range Kind to stringify to Unknown")
	}
}
