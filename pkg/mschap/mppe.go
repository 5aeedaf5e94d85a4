package mschap

import (
	"crypto/rc4"
	"crypto/sha1"
)

// SessionKeySize is the MPPE session key length for 128-bit keys.
const SessionKeySize = 16

var (
	// "This is the MPPE Master Key"
	masterKeyMagic = []byte{
		0x54, 0x68, 0x69, 0x73, 0x20, 0x69, 0x73, 0x20, 0x74,
		0x68, 0x65, 0x20, 0x4d, 0x50, 0x50, 0x45, 0x20, 0x4d,
		0x61, 0x73, 0x74, 0x65, 0x72, 0x20, 0x4b, 0x65, 0x79,
	}

	// "On the client side, this is the send key; on the server side, it is the receive key."
	clientSendMagic = []byte("On the client side, this is the send key; " +
		"on the server side, it is the receive key.")

	// "On the client side, this is the receive key; on the server side, it is the send key."
	serverSendMagic = []byte("On the client side, this is the receive key; " +
		"on the server side, it is the send key.")

	shaPad1 = make([]byte, 40)
	shaPad2 = func() []byte {
		b := make([]byte, 40)
		for i := range b {
			b[i] = 0xf2
		}
		return b
	}()
)

// MasterKey returns SHA1(passwordHashHash || ntResponse || magic)[0:16].
func MasterKey(passwordHashHash, ntResponse []byte) []byte {
	h := sha1.New()
	h.Write(passwordHashHash)
	h.Write(ntResponse)
	h.Write(masterKeyMagic)
	return h.Sum(nil)[:SessionKeySize]
}

// AsymmetricStartKey derives the per-direction master key. clientSend selects the
// key used for client to server traffic.
func AsymmetricStartKey(masterKey []byte, clientSend bool) []byte {
	magic := serverSendMagic
	if clientSend {
		magic = clientSendMagic
	}
	h := sha1.New()
	h.Write(masterKey)
	h.Write(shaPad1)
	h.Write(magic)
	h.Write(shaPad2)
	return h.Sum(nil)[:SessionKeySize]
}

// NewKeyFromSHA returns SHA1(startKey || pad1 || sessionKey || pad2)[0:16].
func NewKeyFromSHA(startKey, sessionKey []byte) []byte {
	h := sha1.New()
	h.Write(startKey[:SessionKeySize])
	h.Write(shaPad1)
	h.Write(sessionKey[:SessionKeySize])
	h.Write(shaPad2)
	return h.Sum(nil)[:SessionKeySize]
}

// InitialSessionKey returns the session key in force before the first packet.
func InitialSessionKey(startKey []byte) []byte {
	return NewKeyFromSHA(startKey, startKey)
}

// NextSessionKey advances a session key by one step: the interim SHA1 key
// is RC4 encrypted with itself as the key.
func NextSessionKey(startKey, sessionKey []byte) []byte {
	interim := NewKeyFromSHA(startKey, sessionKey)
	c, err := rc4.NewCipher(interim)
	if err != nil {
		// interim is always 16 bytes.
		panic(err)
	}
	next := make([]byte, len(interim))
	c.XORKeyStream(next, interim)
	return next
}

// RC4 applies a fresh RC4 keystream for key to src.
func RC4(key, src []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		panic(err)
	}
	dst := make([]byte, len(src))
	c.XORKeyStream(dst, src)
	return dst
}
