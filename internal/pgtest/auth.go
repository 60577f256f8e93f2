package pgtest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"golang.org/x/crypto/pbkdf2"
)

const (
	scramMechanism  = "SCRAM-SHA-256"
	scramIterations = 4096
)

var scramSalt = []byte("pgtest-salt")

func authCleartext(be *pgproto3.Backend, password string) error {
	be.Send(&pgproto3.AuthenticationCleartextPassword{})
	if err := be.SetAuthType(pgproto3.AuthTypeCleartextPassword); err != nil {
		return err
	}
	if err := be.Flush(); err != nil {
		return err
	}
	msg, err := be.Receive()
	if err != nil {
		return err
	}
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok || pw.Password != password {
		return errors.New("bad password")
	}
	return nil
}

// authSCRAM verifies a SCRAM-SHA-256 client proof and answers with the server
// signature. AuthenticationOk is left to the caller.
func authSCRAM(be *pgproto3.Backend, password string) error {
	be.Send(&pgproto3.AuthenticationSASL{AuthMechanisms: []string{scramMechanism}})
	if err := be.SetAuthType(pgproto3.AuthTypeSASL); err != nil {
		return err
	}
	if err := be.Flush(); err != nil {
		return err
	}
	msg, err := be.Receive()
	if err != nil {
		return err
	}
	initial, ok := msg.(*pgproto3.SASLInitialResponse)
	if !ok || initial.AuthMechanism != scramMechanism {
		return fmt.Errorf("unexpected %T during SASL exchange", msg)
	}
	firstBare, ok := strings.CutPrefix(string(initial.Data), "n,,")
	if !ok {
		return errors.New("channel binding is not supported")
	}
	var clientNonce string
	for _, attr := range strings.Split(firstBare, ",") {
		if v, ok := strings.CutPrefix(attr, "r="); ok {
			clientNonce = v
		}
	}
	if clientNonce == "" {
		return errors.New("client nonce missing")
	}

	nonce := clientNonce + "pgtest"
	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d", nonce, base64.StdEncoding.EncodeToString(scramSalt), scramIterations)
	be.Send(&pgproto3.AuthenticationSASLContinue{Data: []byte(serverFirst)})
	if err := be.SetAuthType(pgproto3.AuthTypeSASLContinue); err != nil {
		return err
	}
	if err := be.Flush(); err != nil {
		return err
	}
	msg, err = be.Receive()
	if err != nil {
		return err
	}
	resp, ok := msg.(*pgproto3.SASLResponse)
	if !ok {
		return fmt.Errorf("unexpected %T during SASL exchange", msg)
	}
	withoutProof, proofB64, ok := strings.Cut(string(resp.Data), ",p=")
	if !ok || withoutProof != "c=biws,r="+nonce {
		return errors.New("malformed client-final-message")
	}
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return err
	}

	salted := pbkdf2.Key([]byte(password), scramSalt, scramIterations, sha256.Size, sha256.New)
	authMessage := []byte(firstBare + "," + serverFirst + "," + withoutProof)
	storedKey := sha256.Sum256(mac(salted, []byte("Client Key")))
	sig := mac(storedKey[:], authMessage)
	if len(proof) != len(sig) {
		return errors.New("bad password")
	}
	for i := range proof {
		proof[i] ^= sig[i]
	}
	if got := sha256.Sum256(proof); !hmac.Equal(got[:], storedKey[:]) {
		return errors.New("bad password")
	}

	serverSig := mac(mac(salted, []byte("Server Key")), authMessage)
	be.Send(&pgproto3.AuthenticationSASLFinal{Data: []byte("v=" + base64.StdEncoding.EncodeToString(serverSig))})
	return nil
}

func mac(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}
