package mysql

import (
	"testing"
)

func TestCommandAccQueryWithoutAttributes(t *testing.T) {
	sess := &Session{ClientCaps: ClientProtocol41}
	acc := &CommandAcc{}

	body := append([]byte{byte(ComQuery)}, "SELECT 1"...)
	phase, err := acc.Consume(&Packet{Body: body}, sess)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if phase != PhasePendingResponse {
		t.Fatalf("phase = %s, want PendingResponse", phase)
	}
	if got := acc.Command.Query(); got != "SELECT 1" {
		t.Fatalf("query = %q, want %q", got, "SELECT 1")
	}
}

// TestCommandAccQueryAttributesPreamble covers the shape an
// attributes-capable client (e.g. the mysql CLI) sends for an ordinary
// query: parameter_count=0, parameter_set_count=1, then the query text
// immediately. The null-bitmap and new_params_bind_flag are only on the
// wire when parameter_count > 0, so nothing may be consumed past the
// two-byte preamble.
func TestCommandAccQueryAttributesPreamble(t *testing.T) {
	sess := &Session{ClientCaps: ClientProtocol41 | ClientQueryAttributes}
	acc := &CommandAcc{}

	body := append([]byte{byte(ComQuery), 0x00, 0x01}, "select 1"...)
	phase, err := acc.Consume(&Packet{Body: body}, sess)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if phase != PhasePendingResponse {
		t.Fatalf("phase = %s, want PendingResponse", phase)
	}
	if got := acc.Command.Query(); got != "select 1" {
		t.Fatalf("query = %q, want %q", got, "select 1")
	}
}

func TestCommandAccRefusesBoundQueryAttributes(t *testing.T) {
	sess := &Session{ClientCaps: ClientProtocol41 | ClientQueryAttributes}
	acc := &CommandAcc{}

	// parameter_count=1, parameter_set_count=1, one-byte null bitmap,
	// new_params_bind_flag: the binary-parameter branch this proxy refuses.
	body := []byte{byte(ComQuery), 0x01, 0x01, 0x00, 0x01}
	if _, err := acc.Consume(&Packet{Body: body}, sess); err == nil {
		t.Fatal("expected an error for bound query attributes")
	}
}

func TestCommandAccStmtCloseExpectsNoReply(t *testing.T) {
	sess := &Session{ClientCaps: ClientProtocol41}
	acc := &CommandAcc{}

	body := []byte{byte(ComStmtClose), 0x01, 0x00, 0x00, 0x00}
	phase, err := acc.Consume(&Packet{Body: body}, sess)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if phase != PhaseCommand {
		t.Fatalf("phase = %s, want Command (COM_STMT_CLOSE gets no reply)", phase)
	}

	delta := acc.Delta()
	if delta == nil || delta.LastCommand == nil || delta.LastCommand.Code != ComStmtClose {
		t.Fatalf("delta = %+v, want a last_command of COM_STMT_CLOSE", delta)
	}
	if delta.Response == nil {
		t.Fatal("expected the delta to carry a fresh response accumulator")
	}
}
