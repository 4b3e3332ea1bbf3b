package provisioning

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// keyPair holds the gateway's ephemeral ECDH key pair for one
// provisioning session, in both the curve's native form and the raw
// 32/64-byte wire encodings the device expects.
type keyPair struct {
	priv *ecdh.PrivateKey
}

// generateKeyPair creates a fresh P-256 ECDH key pair.
func generateKeyPair() (keyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return keyPair{}, fmt.Errorf("provisioning: generate key pair: %w", err)
	}
	return keyPair{priv: priv}, nil
}

// rawPrivate returns the 32-byte scalar the device's KEYPAIR_SET
// command expects.
func (k keyPair) rawPrivate() [32]byte {
	var out [32]byte
	copy(out[:], k.priv.Bytes())
	return out
}

// rawPublic returns the raw 64-byte (X||Y, no 0x04 prefix) public key
// the device expects — crypto/ecdh always prefixes its uncompressed
// SEC1 encoding with 0x04, which is stripped here.
func (k keyPair) rawPublic() [64]byte {
	var out [64]byte
	copy(out[:], k.priv.PublicKey().Bytes()[1:])
	return out
}

// sharedSecret performs the ECDH exchange against the device-supplied
// raw 64-byte provisionee public key and the device-supplied raw
// 32-byte private key (the device echoes back the private key the
// gateway set with KEYPAIR_SET rather than keeping the computation
// on-device; this is the existing wire contract, not a choice made
// here).
func sharedSecret(peerPublicRaw [64]byte, privateRaw [32]byte) ([32]byte, error) {
	var uncompressed [65]byte
	uncompressed[0] = 0x04
	copy(uncompressed[1:], peerPublicRaw[:])
	peerPub, err := ecdh.P256().NewPublicKey(uncompressed[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("provisioning: invalid peer public key: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(privateRaw[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("provisioning: invalid private key: %w", err)
	}
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("provisioning: ecdh exchange: %w", err)
	}
	var out [32]byte
	copy(out[:], secret)
	return out, nil
}
