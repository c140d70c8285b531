package command

import "testing"

func TestParseQuery(t *testing.T) {
	payload := append([]byte{byte(OpQuery)}, []byte("SELECT 1")...)
	cmd, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Op != OpQuery || cmd.Query != "SELECT 1" {
		t.Fatalf("cmd = %+v", cmd)
	}
}

func TestParseInitDB(t *testing.T) {
	payload := append([]byte{byte(OpInitDB)}, []byte("accounts")...)
	cmd, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Schema != "accounts" {
		t.Fatalf("Schema = %q", cmd.Schema)
	}
}

func TestParseQuitPing(t *testing.T) {
	for _, op := range []Opcode{OpQuit, OpPing} {
		cmd, err := Parse([]byte{byte(op)})
		if err != nil {
			t.Fatalf("Parse(%v): %v", op, err)
		}
		if cmd.Op != op {
			t.Fatalf("Op = %v, want %v", cmd.Op, op)
		}
	}
}

func TestParseStmtExecute(t *testing.T) {
	payload := []byte{byte(OpStmtExecute)}
	payload = append(payload, 5, 0, 0, 0) // stmt id = 5
	payload = append(payload, 0)          // flags
	payload = append(payload, 1, 0, 0, 0) // iteration count
	payload = append(payload, 0x00)       // null bitmap for 1 param
	payload = append(payload, 0)          // new-params-bound = false

	cmd, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.StmtID != 5 {
		t.Fatalf("StmtID = %d, want 5", cmd.StmtID)
	}
	if len(cmd.ExecutePayload) != 2 {
		t.Fatalf("ExecutePayload = %v, want 2 bytes", cmd.ExecutePayload)
	}
}

func TestParseStmtSendLongData(t *testing.T) {
	payload := []byte{byte(OpStmtSendLongData)}
	payload = append(payload, 9, 0, 0, 0) // stmt id
	payload = append(payload, 2, 0)       // param index 2
	payload = append(payload, []byte("chunk")...)

	cmd, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.StmtID != 9 || cmd.ParamIndex != 2 || string(cmd.Data) != "chunk" {
		t.Fatalf("cmd = %+v", cmd)
	}
}

func TestParseStmtClose(t *testing.T) {
	payload := []byte{byte(OpStmtClose), 3, 0, 0, 0}
	cmd, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.StmtID != 3 {
		t.Fatalf("StmtID = %d, want 3", cmd.StmtID)
	}
}

func TestParseFieldList(t *testing.T) {
	payload := []byte{byte(OpFieldList)}
	payload = append(payload, []byte("users")...)
	payload = append(payload, 0)
	payload = append(payload, []byte("%")...)

	cmd, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Table != "users" || cmd.Column != "%" {
		t.Fatalf("cmd = %+v", cmd)
	}
}

func TestParseUnknownOpcode(t *testing.T) {
	_, err := Parse([]byte{0x99})
	var unk *ErrUnknownOpcode
	if err == nil {
		t.Fatal("expected error for unknown opcode")
	}
	if e, ok := err.(*ErrUnknownOpcode); !ok {
		t.Fatalf("err = %v (%T), want *ErrUnknownOpcode", err, err)
	} else {
		unk = e
	}
	if unk.Op != 0x99 {
		t.Fatalf("Op = %#x, want 0x99", unk.Op)
	}
}
