package provisioning

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"
)

// TestSharedSecretMatchesDevice simulates the device side with a second
// independently generated P-256 key pair and checks both sides derive
// the same ECDH shared secret from each other's raw-byte encodings,
// the same way Provisioner.handle and the device firmware do.
func TestSharedSecretMatchesDevice(t *testing.T) {
	gwPair, err := generateKeyPair()
	if err != nil {
		t.Fatalf("generate gateway key pair: %v", err)
	}

	devicePriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate device key pair: %v", err)
	}
	var devicePub [64]byte
	copy(devicePub[:], devicePriv.PublicKey().Bytes()[1:])
	var devicePrivRaw [32]byte
	copy(devicePrivRaw[:], devicePriv.Bytes())

	// The device computes the secret against the gateway's public key.
	var uncompressed [65]byte
	uncompressed[0] = 0x04
	copy(uncompressed[1:], gwPair.rawPublic()[:])
	gwPub, err := ecdh.P256().NewPublicKey(uncompressed[:])
	if err != nil {
		t.Fatalf("reconstruct gateway public key: %v", err)
	}
	deviceSecret, err := devicePriv.ECDH(gwPub)
	if err != nil {
		t.Fatalf("device-side ecdh: %v", err)
	}

	// The gateway computes the secret from the event the device reports
	// back (the provisionee's public key and the gateway's own private
	// scalar, echoed back after KEYPAIR_SET).
	gotSecret, err := sharedSecret(devicePub, gwPair.rawPrivate())
	if err != nil {
		t.Fatalf("sharedSecret: %v", err)
	}

	if len(gotSecret) != len(deviceSecret) {
		t.Fatalf("secret length mismatch: got %d, want %d", len(gotSecret), len(deviceSecret))
	}
	for i := range deviceSecret {
		if gotSecret[i] != deviceSecret[i] {
			t.Fatalf("shared secret mismatch at byte %d", i)
		}
	}
}

func TestSharedSecretRejectsInvalidPeerKey(t *testing.T) {
	kp, err := generateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	var garbage [64]byte
	for i := range garbage {
		garbage[i] = 0xff
	}
	if _, err := sharedSecret(garbage, kp.rawPrivate()); err == nil {
		t.Fatal("expected an error for a peer key not on the curve")
	}
}
