package netx

import (
	"net"

	"github.com/sirupsen/logrus"
)

// The verify request/reply always travel under ModeLegacy framing: the wire
// mode the rest of the connection will use is itself negotiated by this
// exchange, so it cannot presuppose it. The cmd=2000 ack that follows is the
// first frame written under whichever mode was just negotiated.

// verifyRequest is the client's opening cmd 1000 frame.
type verifyRequest struct {
	serviceName string
	verifyKey   string
	sessionID   int64 // 0 requests a fresh session
}

func (r verifyRequest) encode() []byte {
	w := newBodyWriter()
	w.writeI32(cmdVerify).writeString(r.serviceName).writeString(r.verifyKey).writeI64(r.sessionID)
	return w.bytes()
}

func decodeVerifyRequest(body []byte) (verifyRequest, error) {
	r := newBodyReader(body)
	if _, err := r.readI32(); err != nil { // cmd, already known to be cmdVerify
		return verifyRequest{}, err
	}
	var req verifyRequest
	var err error
	if req.serviceName, err = r.readString(); err != nil {
		return verifyRequest{}, err
	}
	if req.verifyKey, err = r.readString(); err != nil {
		return verifyRequest{}, err
	}
	if req.sessionID, err = r.readI64(); err != nil {
		return verifyRequest{}, err
	}
	return req, nil
}

// verifyReply is the server's cmd 1000 response: is_err/msg, plus an
// optional trailing mode byte. A trailing byte equal to 1 announces Mode 1;
// its absence (or any other value) keeps both sides in Mode 0.
type verifyReply struct {
	isErr bool
	msg   string
	mode1 bool
}

func (r verifyReply) encode() []byte {
	w := newBodyWriter()
	w.writeI32(cmdVerify).writeBool(r.isErr).writeString(r.msg)
	if r.mode1 {
		w.writeU8(1)
	}
	return w.bytes()
}

func decodeVerifyReply(body []byte) (verifyReply, error) {
	r := newBodyReader(body)
	if _, err := r.readI32(); err != nil {
		return verifyReply{}, err
	}
	var reply verifyReply
	var err error
	if reply.isErr, err = r.readBool(); err != nil {
		return verifyReply{}, err
	}
	if reply.msg, err = r.readString(); err != nil {
		return verifyReply{}, err
	}
	if r.remaining() > 0 {
		b, err := r.readU8()
		if err != nil {
			return verifyReply{}, err
		}
		reply.mode1 = b == 1
	}
	return reply, nil
}

// sessionAnnounce is the server's cmd 2000 frame, sent once the client's
// Mode-1 ack (or its Mode-0 equivalent) has been read: the session id the
// client should remember.
type sessionAnnounce struct {
	sessionID int64
}

func (a sessionAnnounce) encode() []byte {
	w := newBodyWriter()
	w.writeI32(cmdSessionID).writeI64(a.sessionID)
	return w.bytes()
}

func decodeSessionAnnounce(body []byte) (sessionAnnounce, error) {
	r := newBodyReader(body)
	if _, err := r.readI32(); err != nil {
		return sessionAnnounce{}, err
	}
	var a sessionAnnounce
	sid, err := r.readI64()
	if err != nil {
		return sessionAnnounce{}, err
	}
	a.sessionID = sid
	return a, nil
}

// encodeModeAck builds the client's empty cmd=2000 acknowledgement, sent
// under whichever mode the verify reply just negotiated.
func encodeModeAck() []byte {
	return newBodyWriter().writeI32(cmdSessionID).bytes()
}

// serverHandshake runs the server side of the handshake on a freshly
// accepted net.Conn: verify service_name/verify_key, announce the wire mode,
// read the client's boundary ack under that mode, resolve or mint a Token,
// and announce the session id. On success it returns the resolved Token and
// the negotiated mode; the caller is then responsible for binding nc onto
// the Token and starting its connDriver.
func serverHandshake(nc net.Conn, mgr *Manager, cfg *serverConfig) (*Token, int, error) {
	body, err := readFrame(nc, ModeLegacy)
	if err != nil {
		return nil, 0, &ConnectError{Msg: "read verify request: " + err.Error()}
	}
	req, err := decodeVerifyRequest(body)
	if err != nil {
		return nil, 0, &ConnectError{Msg: "decode verify request: " + err.Error()}
	}

	if cfg.serviceName != "" && req.serviceName != cfg.serviceName {
		writeFrame(nc, ModeLegacy, verifyReply{isErr: true, msg: "service name error"}.encode())
		return nil, 0, &ConnectError{Msg: "service name mismatch"}
	}
	if cfg.verifyKey != "" && req.verifyKey != cfg.verifyKey {
		writeFrame(nc, ModeLegacy, verifyReply{isErr: true, msg: "verify key error"}.encode())
		return nil, 0, &ConnectError{Msg: "verify key mismatch"}
	}

	mode := ModeLegacy
	if cfg.allowMode1 {
		mode = ModeCurrent
	}
	reply := verifyReply{isErr: false, msg: "verify success", mode1: cfg.allowMode1}
	if err := writeFrame(nc, ModeLegacy, reply.encode()); err != nil {
		return nil, 0, &ConnectError{Msg: "write verify reply: " + err.Error()}
	}

	// The client's boundary ack is the first frame framed under the
	// negotiated mode; reading it here is what makes that mode switch take
	// effect on the server side too.
	if _, err := readFrame(nc, mode); err != nil {
		return nil, 0, &ConnectError{Msg: "read mode ack: " + err.Error()}
	}

	resumed := req.sessionID != 0
	token, err := mgr.GetOrCreateToken(req.sessionID)
	if err != nil {
		return nil, 0, &ConnectError{Msg: "resolve session: " + err.Error()}
	}
	if resumed && token.SessionID() == req.sessionID && cfg.metrics != nil {
		cfg.metrics.reconnects.Inc()
	}

	announce := sessionAnnounce{sessionID: token.SessionID()}
	if err := writeFrame(nc, mode, announce.encode()); err != nil {
		return nil, 0, &ConnectError{Msg: "write session announce: " + err.Error()}
	}

	return token, mode, nil
}

// clientHandshake runs the client side of the handshake on a freshly dialed
// net.Conn: present service_name/verify_key/session id, read back the
// verdict and mode, ack the boundary, then read the server's assigned
// session id.
func clientHandshake(nc net.Conn, cfg *clientConfig, sessionID int64, log *logrus.Entry) (sessionAnnounce, int, error) {
	req := verifyRequest{
		serviceName: cfg.serviceName,
		verifyKey:   cfg.verifyKey,
		sessionID:   sessionID,
	}
	if err := writeFrame(nc, ModeLegacy, req.encode()); err != nil {
		return sessionAnnounce{}, 0, &ConnectError{Msg: "write verify request: " + err.Error()}
	}

	body, err := readFrame(nc, ModeLegacy)
	if err != nil {
		return sessionAnnounce{}, 0, &ConnectError{Msg: "read verify reply: " + err.Error()}
	}
	reply, err := decodeVerifyReply(body)
	if err != nil {
		return sessionAnnounce{}, 0, &ConnectError{Msg: "decode verify reply: " + err.Error()}
	}
	if reply.isErr {
		return sessionAnnounce{}, 0, &ConnectError{Msg: reply.msg}
	}

	mode := ModeLegacy
	if reply.mode1 {
		mode = ModeCurrent
	}
	if err := writeFrame(nc, mode, encodeModeAck()); err != nil {
		return sessionAnnounce{}, 0, &ConnectError{Msg: "write mode ack: " + err.Error()}
	}

	body, err = readFrame(nc, mode)
	if err != nil {
		return sessionAnnounce{}, 0, &ConnectError{Msg: "read session announce: " + err.Error()}
	}
	announce, err := decodeSessionAnnounce(body)
	if err != nil {
		return sessionAnnounce{}, 0, &ConnectError{Msg: "decode session announce: " + err.Error()}
	}
	log.WithField("session_id", announce.sessionID).Debug("handshake complete")
	return announce, mode, nil
}
