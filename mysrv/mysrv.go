// Package mysrv drives the handshake and command loop of a MySQL-protocol
// connection, dispatching each command to a user-supplied Backend and
// owning the prepared-statement table (spec.md §4.7). It is the entry
// point of the library: a caller accepts a net.Conn and hands it to
// New(...).Run.
package mysrv

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taku-k/mysrv/broker"
	"github.com/taku-k/mysrv/command"
	"github.com/taku-k/mysrv/detect"
	"github.com/taku-k/mysrv/mysqltype"
	"github.com/taku-k/mysrv/packet"
	"github.com/taku-k/mysrv/params"
	"github.com/taku-k/mysrv/query"
	"github.com/taku-k/mysrv/tlsupgrade"
	"github.com/taku-k/mysrv/value"
	"github.com/taku-k/mysrv/wire"
)

// Column is a result-set or prepared-statement-parameter column
// descriptor (spec.md §3).
type Column = wire.Column

// ErrorKind classifies an Error at the protocol boundary (spec.md §7).
type ErrorKind int

const (
	ErrKindTransport ErrorKind = iota
	ErrKindProtocol
	ErrKindStatement
	ErrKindBackend
	ErrKindTLS
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransport:
		return "transport"
	case ErrKindProtocol:
		return "protocol"
	case ErrKindStatement:
		return "statement"
	case ErrKindBackend:
		return "backend"
	case ErrKindTLS:
		return "tls"
	}
	return "unknown"
}

// Error is the error type surfaced by Intermediary.Run and by writer
// methods. It always embeds the underlying cause so transport errors lift
// cleanly into a Backend's own error domain.
type Error struct {
	Kind ErrorKind
	Code mysqltype.ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mysrv: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("mysrv: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, code mysqltype.ErrorCode, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: cause}
}

// Backend is the pluggable object the Intermediary dispatches commands to
// (spec.md §6).
type Backend interface {
	OnPrepare(query string, w *StatementMetaWriter) error
	OnExecute(stmtID uint32, ps []params.Param, w *QueryResultWriter) error
	OnClose(stmtID uint32)
	OnQuery(query string, w *QueryResultWriter) error
	OnInit(schema string, w *InitWriter) error
	TLSConfig() *tlsupgrade.Config
	AfterTLSHandshake(clientCerts []*x509.Certificate)
}

// DefaultBackend supplies spec.md §6's defaults (OK on init, no TLS, ignore
// client certs) for embedding into a concrete Backend implementation that
// doesn't need to override every method.
type DefaultBackend struct{}

func (DefaultBackend) OnInit(_ string, w *InitWriter) error { return w.OK() }
func (DefaultBackend) TLSConfig() *tlsupgrade.Config        { return nil }
func (DefaultBackend) AfterTLSHandshake([]*x509.Certificate) {}

// Logger is the minimal logging capability the Intermediary uses. The
// standard library's *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// Option configures an Intermediary.
type Option func(*Intermediary)

// WithLogger overrides the Intermediary's logger (default: log.Default()).
func WithLogger(l Logger) Option {
	return func(mi *Intermediary) { mi.log = l }
}

// WithServerVersion overrides the version string advertised in the initial
// handshake packet (default: "8.0.34-mysrv").
func WithServerVersion(v string) Option {
	return func(mi *Intermediary) { mi.serverVersion = v }
}

// WithBroker attaches b so the Intermediary publishes a connect event at
// the start of the command loop, a disconnect event at the end, and after
// each query/prepare/execute command either an event of that kind or, if
// the command failed, an error event carrying the error.
func WithBroker(b *broker.Broker) Option {
	return func(mi *Intermediary) { mi.broker = b }
}

// WithN1Detection enables repeated-query-template detection: whenever the
// same normalized query is seen threshold times within window, a
// broker.KindAlert event is published (at most once per cooldown per
// template). Has no effect unless a broker is also attached.
func WithN1Detection(threshold int, window, cooldown time.Duration) Option {
	return func(mi *Intermediary) { mi.n1 = detect.New(threshold, window, cooldown) }
}

// statementData is the server-held table entry for a prepared statement
// (spec.md §3's "Prepared-statement state").
type statementData struct {
	paramCount int
	resultCols []Column
	query      string
	bound      params.BoundState
}

// Intermediary drives one connection end to end: handshake, command loop,
// statement table. One instance is created per accepted connection and
// driven by exactly one goroutine (spec.md §5).
type Intermediary struct {
	backend Backend
	conn    net.Conn
	reader  *packet.Reader
	writer  *packet.Writer

	log           Logger
	serverVersion string
	broker        *broker.Broker
	n1            *detect.Detector
	connID        uuid.UUID

	stmts          map[uint32]*statementData
	lastBoundQuery string
}

// New creates an Intermediary over conn. Run must be called to drive the
// connection.
func New(backend Backend, conn net.Conn, opts ...Option) *Intermediary {
	mi := &Intermediary{
		backend:       backend,
		conn:          conn,
		reader:        packet.NewReader(conn),
		writer:        packet.NewWriter(conn),
		log:           log.Default(),
		serverVersion: "8.0.34-mysrv",
		stmts:         make(map[uint32]*statementData),
		connID:        uuid.New(),
	}
	for _, opt := range opts {
		opt(mi)
	}
	return mi
}

// Run performs the handshake and then drives the command loop until the
// client issues QUIT, disconnects, or an unrecoverable error occurs.
// Once the handshake is done, cancelling ctx closes the connection at once,
// which ends any read or write in progress.
func (mi *Intermediary) Run(ctx context.Context) error {
	if err := mi.handshake(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		mi.conn.Close()
	}()

	mi.publish(broker.Event{Kind: broker.KindConnect})
	err := mi.loop()
	mi.publish(broker.Event{Kind: broker.KindDisconnect, Err: err})
	return err
}

func (mi *Intermediary) publish(ev broker.Event) {
	if mi.broker == nil {
		return
	}
	ev.ConnID = mi.connID
	ev.At = time.Now()
	mi.broker.Publish(ev)
}

// handshake implements the Greet -> AwaitClientHandshake -> (maybe)
// TlsSwitch -> AwaitClientHandshake' sequence of spec.md §4.7, grounded
// nearly line-for-line on the original intermediary's init().
func (mi *Intermediary) handshake() error {
	authSeed1, authSeed2, err := randomAuthSeed()
	if err != nil {
		return newErr(ErrKindTransport, 0, "generating auth seed", err)
	}

	tlsCfg := mi.backend.TLSConfig()

	var buf []byte
	buf = append(buf, 10) // protocol version 10
	buf = wire.PutNulString(buf, mi.serverVersion)
	buf = append(buf, 0x08, 0x00, 0x00, 0x00) // connection id, unused
	buf = append(buf, authSeed1...)
	buf = append(buf, 0)

	lowerCaps := uint16(mysqltype.ServerCapabilities)
	if tlsCfg != nil {
		lowerCaps |= uint16(mysqltype.ClientSSL)
	}
	buf = append(buf, byte(lowerCaps), byte(lowerCaps>>8))
	buf = append(buf, 0x21)       // utf8_general_ci
	buf = append(buf, 0x00, 0x00) // status flags
	buf = append(buf, 0x00, 0x00) // upper capabilities
	buf = append(buf, byte(len(authSeed2)+8+1))
	buf = append(buf, make([]byte, 10)...) // reserved
	buf = append(buf, authSeed2...)
	buf = append(buf, 0)

	mi.writer.Write(buf)
	if err := mi.writer.Flush(); err != nil {
		return newErr(ErrKindTransport, 0, "writing handshake", err)
	}

	seq, payload, err := mi.reader.Next()
	if err != nil {
		return newErr(ErrKindTransport, 0, "reading client handshake", err)
	}
	hs, err := parseClientHandshake(payload)
	if err != nil {
		return newErr(ErrKindProtocol, 0, "parsing client handshake", err)
	}
	mi.writer.SetSeq(seq + 1)

	if hs.capabilities&uint32(mysqltype.ClientSSL) != 0 {
		if tlsCfg == nil {
			return mi.denyTLS("client requested SSL but none is configured")
		}
		cfg, err := tlsCfg.TLSConfig()
		if err != nil {
			return newErr(ErrKindTLS, 0, "loading TLS configuration", err)
		}
		prepended := mi.reader.Buffered()
		tlsConn, err := tlsupgrade.Switch(mi.conn, prepended, cfg)
		if err != nil {
			return newErr(ErrKindTLS, 0, "TLS handshake", err)
		}
		mi.reader = packet.NewReader(tlsConn)
		mi.writer = packet.NewWriter(tlsConn)

		seq, payload, err = mi.reader.Next()
		if err != nil {
			return newErr(ErrKindTransport, 0, "reading post-TLS client handshake", err)
		}
		if _, err := parseClientHandshake(payload); err != nil {
			return newErr(ErrKindProtocol, 0, "parsing post-TLS client handshake", err)
		}
		mi.writer.SetSeq(seq + 1)

		if state := tlsConn.ConnectionState(); len(state.PeerCertificates) > 0 {
			mi.backend.AfterTLSHandshake(state.PeerCertificates)
		}
	} else if tlsCfg != nil && tlsCfg.RequireTLS {
		return mi.denyTLS("please connect with SSL enabled")
	}

	mi.writer.Write(wire.PutOK(nil, 0, 0, 0, 0))
	return mi.flushOrTransportErr()
}

func (mi *Intermediary) denyTLS(msg string) error {
	mi.writer.Write(wire.PutERR(nil, mysqltype.ErrAccessDenied, msg))
	mi.writer.Flush()
	return newErr(ErrKindTLS, mysqltype.ErrAccessDenied, msg, nil)
}

func randomAuthSeed() (part1, part2 []byte, err error) {
	part1 = make([]byte, 8)
	if _, err := rand.Read(part1); err != nil {
		return nil, nil, err
	}
	part2 = make([]byte, 12)
	if _, err := rand.Read(part2); err != nil {
		return nil, nil, err
	}
	return part1, part2, nil
}

type clientHandshake struct {
	capabilities uint32
	maxPacket    uint32
	charset      byte
	username     string
	database     string
}

// parseClientHandshake parses the client's handshake-response packet
// (spec.md §4.7). The auth response bytes are intentionally discarded;
// this library never verifies authentication.
func parseClientHandshake(b []byte) (clientHandshake, error) {
	if len(b) < 4+4+1+23 {
		return clientHandshake{}, fmt.Errorf("mysrv: client handshake too short")
	}
	caps := leUint32(b[0:4])
	maxPacket := leUint32(b[4:8])
	charset := b[8]
	pos := 9 + 23

	username, n, err := wire.NulString(b[pos:])
	if err != nil {
		return clientHandshake{}, fmt.Errorf("mysrv: reading username: %w", err)
	}
	pos += n

	protocol41 := caps&uint32(mysqltype.ClientProtocol41) != 0
	secureConn := caps&uint32(mysqltype.ClientSecureConn) != 0
	if pos < len(b) {
		if protocol41 {
			authLen, _, n, err := wire.LenEncInt(b[pos:])
			if err == nil {
				pos += n
				pos += int(authLen)
			}
		} else if secureConn {
			if pos < len(b) {
				authLen := int(b[pos])
				pos++
				pos += authLen
			}
		} else {
			_, n, _ := wire.NulString(b[pos:])
			pos += n
		}
	}

	var database string
	if caps&uint32(mysqltype.ClientConnectWithDB) != 0 && pos < len(b) {
		db, n, err := wire.NulString(b[pos:])
		if err == nil {
			database = string(db)
			pos += n
		}
	}

	return clientHandshake{
		capabilities: caps,
		maxPacket:    maxPacket,
		charset:      charset,
		username:     string(username),
		database:     database,
	}, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// loop implements the Command-phase state machine of spec.md §4.7,
// grounded nearly line-for-line on the original intermediary's run().
func (mi *Intermediary) loop() error {
	for {
		seq, payload, err := mi.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return newErr(ErrKindTransport, 0, "reading command packet", err)
		}
		mi.writer.SetSeq(seq + 1)

		cmd, err := command.Parse(payload)
		if err != nil {
			var unk *command.ErrUnknownOpcode
			if errors.As(err, &unk) {
				mi.writeErr(mysqltype.ErrUnknownComError, err.Error())
				mi.writer.Flush()
				return newErr(ErrKindProtocol, mysqltype.ErrUnknownComError, "unknown opcode", err)
			}
			return newErr(ErrKindProtocol, 0, "parsing command", err)
		}

		start := time.Now()
		dispatchErr := mi.dispatch(cmd)
		mi.publishCommand(cmd, start, dispatchErr)

		if dispatchErr != nil {
			if errors.Is(dispatchErr, errQuit) {
				return nil
			}
			// Send any ERR packet the failed command queued. An unknown
			// statement id leaves the connection usable; every other
			// failure ends it.
			flushErr := mi.writer.Flush()
			var me *Error
			if flushErr == nil && errors.As(dispatchErr, &me) && me.Kind == ErrKindStatement {
				continue
			}
			return dispatchErr
		}

		if err := mi.writer.Flush(); err != nil {
			return newErr(ErrKindTransport, 0, "flushing response", err)
		}
	}
}

func (mi *Intermediary) publishCommand(cmd command.Command, start time.Time, err error) {
	if mi.broker == nil {
		return
	}
	var kind broker.Kind
	var queryText string
	switch cmd.Op {
	case command.OpQuery:
		kind, queryText = broker.KindQuery, cmd.Query
	case command.OpStmtPrepare:
		kind, queryText = broker.KindPrepare, cmd.Query
	case command.OpStmtExecute:
		kind, queryText = broker.KindExecute, mi.lastBoundQuery
	default:
		return
	}
	if err != nil {
		kind = broker.KindError
	}
	mi.publish(broker.Event{Kind: kind, Query: queryText, Duration: time.Since(start), Err: err})

	if err == nil && mi.n1 != nil {
		if alert := mi.n1.Record(query.Normalize(queryText), time.Now()).Alert; alert != nil {
			mi.publish(broker.Event{Kind: broker.KindAlert, Query: alert.Query, Count: alert.Count})
		}
	}
}

var errQuit = errors.New("mysrv: client issued QUIT")

func (mi *Intermediary) dispatch(cmd command.Command) error {
	switch cmd.Op {
	case command.OpQuit:
		return errQuit

	case command.OpPing:
		mi.writer.Write(wire.PutOK(nil, 0, 0, 0, 0))
		return nil

	case command.OpInitDB:
		return mi.runInit(cmd.Schema)

	case command.OpQuery:
		return mi.runQuery(cmd.Query)

	case command.OpStmtPrepare:
		return mi.runPrepare(cmd.Query)

	case command.OpStmtExecute:
		return mi.runExecute(cmd.StmtID, cmd.ExecutePayload)

	case command.OpStmtSendLongData:
		st, ok := mi.stmts[cmd.StmtID]
		if !ok {
			return newErr(ErrKindStatement, mysqltype.ErrUnknownStmtHandler, "long data for unknown statement", nil)
		}
		st.bound.AppendLongData(cmd.ParamIndex, cmd.Data)
		return nil

	case command.OpStmtClose:
		mi.backend.OnClose(cmd.StmtID)
		delete(mi.stmts, cmd.StmtID)
		return nil

	case command.OpFieldList:
		cols := []Column{{Name: "not implemented", Type: mysqltype.TypeShort, Flags: mysqltype.FlagUnsigned}}
		for _, c := range cols {
			mi.writer.Write(wire.PutColumnDefinition(nil, c))
		}
		mi.writer.Write(wire.PutEOF(nil, 0, 0))
		return nil

	default:
		return newErr(ErrKindProtocol, mysqltype.ErrUnknownComError, "unhandled opcode", nil)
	}
}

// runQuery intercepts SELECT @@... and USE ... before handing off to the
// backend (spec.md §4.7).
func (mi *Intermediary) runQuery(q string) error {
	switch {
	case hasPrefixFold(q, "SELECT @@"):
		return mi.runSelectAtAt(q[len("SELECT @@"):])
	case hasPrefixFold(q, "USE "):
		schema := strings.Trim(strings.TrimSpace(q[len("USE "):]), "`;")
		schema = strings.TrimSpace(strings.TrimSuffix(schema, ";"))
		return mi.runInit(schema)
	default:
		w := newQueryResultWriter(mi.writer, false)
		if err := mi.backend.OnQuery(q, w); err != nil {
			return wrapBackendErr(err)
		}
		return nil
	}
}

func (mi *Intermediary) runSelectAtAt(variable string) error {
	w := newQueryResultWriter(mi.writer, false)
	if variable == "max_allowed_packet" {
		cols := []Column{{Name: "@@max_allowed_packet", Type: mysqltype.TypeLong, Flags: mysqltype.FlagUnsigned}}
		rw, err := w.Start(cols)
		if err != nil {
			return wrapBackendErr(err)
		}
		if err := rw.WriteRow(uint32(67108864)); err != nil {
			return wrapBackendErr(err)
		}
		return wrapBackendErr(rw.Finish())
	}
	return wrapBackendErr(w.Completed(0, 0))
}

func (mi *Intermediary) runInit(schema string) error {
	w := &InitWriter{writer: mi.writer}
	return wrapBackendErr(mi.backend.OnInit(schema, w))
}

func (mi *Intermediary) runPrepare(q string) error {
	w := &StatementMetaWriter{writer: mi.writer, stmts: mi.stmts, query: q}
	return wrapBackendErr(mi.backend.OnPrepare(q, w))
}

func (mi *Intermediary) runExecute(stmtID uint32, payload []byte) error {
	st, ok := mi.stmts[stmtID]
	if !ok {
		mi.writeErr(mysqltype.ErrUnknownStmtHandler, fmt.Sprintf("unknown statement %d", stmtID))
		return newErr(ErrKindStatement, mysqltype.ErrUnknownStmtHandler, "unknown statement", nil)
	}

	ps, err := params.Parse(payload, st.paramCount, &st.bound)
	if err != nil {
		mi.writeErr(mysqltype.ErrMalformedPacket, err.Error())
		return newErr(ErrKindProtocol, mysqltype.ErrMalformedPacket, "parsing execute params", err)
	}
	mi.lastBoundQuery = query.Bind(st.query, paramDisplayStrings(ps))

	w := newQueryResultWriter(mi.writer, true)
	execErr := mi.backend.OnExecute(stmtID, ps, w)
	st.bound.ClearLongData()
	if execErr != nil {
		return wrapBackendErr(execErr)
	}
	return nil
}

// paramDisplayStrings renders bound execute parameters as text, for
// substitution into the prepared query's "?" placeholders when publishing
// an execute event.
func paramDisplayStrings(ps []params.Param) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = valueDisplayString(p.Value)
	}
	return out
}

func valueDisplayString(v value.Value) string {
	switch v.Kind {
	case value.KindNull:
		return "NULL"
	case value.KindInt:
		return fmt.Sprintf("%d", v.Int)
	case value.KindUint:
		return fmt.Sprintf("%d", v.Uint)
	case value.KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case value.KindFloat32:
		return fmt.Sprintf("%g", v.Float)
	case value.KindBytes:
		return string(v.Bytes)
	case value.KindDate:
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", v.Year, v.Month, v.Day, v.Hour, v.Minute, v.Second)
	case value.KindTime:
		sign := ""
		if v.Negative {
			sign = "-"
		}
		return fmt.Sprintf("%s%dd %02d:%02d:%02d", sign, v.Days, v.Hour, v.Minute, v.Second)
	}
	return ""
}

func (mi *Intermediary) writeErr(code mysqltype.ErrorCode, msg string) {
	mi.writer.Write(wire.PutERR(nil, code, msg))
}

func wrapBackendErr(err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return newErr(ErrKindBackend, 0, "backend callback", err)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
