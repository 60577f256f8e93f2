package postgres

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"
	"strconv"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/tuannm99/novadb"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
)

const scramSHA256 = "SCRAM-SHA-256"

// scramClient is one SCRAM-SHA-256 exchange without channel binding. The
// user name is left empty; the server takes it from the startup message.
type scramClient struct {
	password    []byte
	clientNonce string

	firstBare   string
	serverFirst []byte
	nonce       []byte
	salted      []byte
	authMessage []byte
}

func newSCRAMClient(password string) (*scramClient, error) {
	p, err := precis.OpaqueString.Bytes([]byte(password))
	if err != nil {
		// The server stores passwords that fail SASLprep as they are.
		p = []byte(password)
	}
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return &scramClient{password: p, clientNonce: base64.RawStdEncoding.EncodeToString(buf)}, nil
}

func (sc *scramClient) clientFirst() []byte {
	sc.firstBare = "n=,r=" + sc.clientNonce
	return []byte("n,," + sc.firstBare)
}

// clientFinal parses r=<nonce>,s=<salt>,i=<iterations> and returns the proof
// message.
func (sc *scramClient) clientFinal(serverFirst []byte) ([]byte, error) {
	sc.serverFirst = bytes.Clone(serverFirst)

	var salt []byte
	iters := 0
	for _, attr := range bytes.Split(sc.serverFirst, []byte(",")) {
		if len(attr) < 2 || attr[1] != '=' {
			return nil, fmt.Errorf("%w: malformed SCRAM server-first-message", novadb.ErrProtocol)
		}
		val := attr[2:]
		switch attr[0] {
		case 'r':
			sc.nonce = val
		case 's':
			s, err := base64.StdEncoding.DecodeString(string(val))
			if err != nil {
				return nil, fmt.Errorf("%w: SCRAM salt: %w", novadb.ErrProtocol, err)
			}
			salt = s
		case 'i':
			n, err := strconv.Atoi(string(val))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: SCRAM iteration count %q", novadb.ErrProtocol, val)
			}
			iters = n
		}
	}
	if salt == nil || iters == 0 {
		return nil, fmt.Errorf("%w: SCRAM server-first-message lacks salt or iterations", novadb.ErrProtocol)
	}
	if len(sc.nonce) <= len(sc.clientNonce) || !bytes.HasPrefix(sc.nonce, []byte(sc.clientNonce)) {
		return nil, fmt.Errorf("%w: SCRAM server nonce does not extend the client nonce", novadb.ErrProtocol)
	}

	withoutProof := "c=biws,r=" + string(sc.nonce)
	sc.salted = pbkdf2.Key(sc.password, salt, iters, sha256.Size, sha256.New)
	sc.authMessage = slices.Concat([]byte(sc.firstBare), []byte(","), sc.serverFirst, []byte(","), []byte(withoutProof))

	clientKey := scramHMAC(sc.salted, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	proof := scramHMAC(storedKey[:], sc.authMessage)
	for i := range proof {
		proof[i] ^= clientKey[i]
	}
	return []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)), nil
}

// verify checks the server signature of v=<signature>.
func (sc *scramClient) verify(serverFinal []byte) error {
	sig, ok := bytes.CutPrefix(serverFinal, []byte("v="))
	if !ok {
		return fmt.Errorf("%w: malformed SCRAM server-final-message", novadb.ErrProtocol)
	}
	want := scramHMAC(scramHMAC(sc.salted, []byte("Server Key")), sc.authMessage)
	if !hmac.Equal([]byte(base64.StdEncoding.EncodeToString(want)), sig) {
		return fmt.Errorf("%w: SCRAM server signature mismatch", novadb.ErrProtocol)
	}
	return nil
}

func scramHMAC(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// authSCRAM runs the SASL exchange after AuthenticationSASL. The final
// AuthenticationOk is left to the startup loop.
func (c *Conn) authSCRAM(mechanisms []string) error {
	if !slices.Contains(mechanisms, scramSHA256) {
		return fmt.Errorf("postgres: no supported SASL mechanism in %v", mechanisms)
	}
	sc, err := newSCRAMClient(c.opts.Password)
	if err != nil {
		return fmt.Errorf("postgres: scram: %w", err)
	}

	c.fe.Send(&pgproto3.SASLInitialResponse{AuthMechanism: scramSHA256, Data: sc.clientFirst()})
	if err := c.flush(); err != nil {
		return err
	}
	msg, err := c.receive()
	if err != nil {
		return err
	}
	var final []byte
	switch m := msg.(type) {
	case *pgproto3.AuthenticationSASLContinue:
		if final, err = sc.clientFinal(m.Data); err != nil {
			return err
		}
	case *pgproto3.ErrorResponse:
		return newDatabaseError(m)
	default:
		return fmt.Errorf("%w: unexpected %T during SASL exchange", novadb.ErrProtocol, msg)
	}

	c.fe.Send(&pgproto3.SASLResponse{Data: final})
	if err := c.flush(); err != nil {
		return err
	}
	msg, err = c.receive()
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *pgproto3.AuthenticationSASLFinal:
		return sc.verify(m.Data)
	case *pgproto3.ErrorResponse:
		return newDatabaseError(m)
	default:
		return fmt.Errorf("%w: unexpected %T during SASL exchange", novadb.ErrProtocol, msg)
	}
}
