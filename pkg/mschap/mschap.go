// Package mschap implements the MS-CHAPv2 (RFC 2759) and MPPE key (RFC 3078, RFC 3079)
// primitives needed to verify captured handshakes and decrypt MPPE traffic.
package mschap

import (
	"crypto/des"
	"crypto/sha1"
	"fmt"

	"golang.org/x/crypto/md4"
	"golang.org/x/text/encoding/unicode"
)

const (
	// NTHashSize is the length of an NT password hash.
	NTHashSize = 16
	// NTResponseSize is the length of the MS-CHAPv2 NT-Response field.
	NTResponseSize = 24
	// ChallengeSize is the length of the DES plaintext derived from the challenges.
	ChallengeSize = 8
	// DESKeySize is the length of a DES key before parity expansion.
	DESKeySize = 7
)

var desParityKeyTable = makeDesParityKeyTable()

// makeDesParityKeyTable maps a 7-bit value to the byte with that value in the top
// seven bits and odd parity in the low bit.
func makeDesParityKeyTable() [128]byte {
	var tbl [128]byte
	for i := uint8(0); i < 128; i++ {
		c := 0
		for j := uint(0); j < 7; j++ {
			if i&(0x01<<j) != 0 {
				c++
			}
		}
		if c%2 == 0 {
			tbl[i] = (i << 1) | 1
		} else {
			tbl[i] = i << 1
		}
	}
	return tbl
}

// ExpandDESKey spreads 56 key bits over 8 bytes and sets the DES parity bits.
func ExpandDESKey(key []byte) []byte {
	if len(key) != DESKeySize {
		panic(fmt.Sprintf("mschap: DES key must be %d bytes, got %d", DESKeySize, len(key)))
	}
	pkey := []byte{
		key[0] >> 1,
		((key[0] & 0x01) << 6) | (key[1] >> 2),
		((key[1] & 0x03) << 5) | (key[2] >> 3),
		((key[2] & 0x07) << 4) | (key[3] >> 4),
		((key[3] & 0x0f) << 3) | (key[4] >> 5),
		((key[4] & 0x1f) << 2) | (key[5] >> 6),
		((key[5] & 0x3f) << 1) | (key[6] >> 7),
		key[6] & 0x7f,
	}
	for i, v := range pkey {
		pkey[i] = desParityKeyTable[v]
	}
	return pkey
}

// DESEncrypt encrypts one 8-byte block with a 7-byte key.
func DESEncrypt(key, block []byte) []byte {
	cb, err := des.NewCipher(ExpandDESKey(key))
	if err != nil {
		// An expanded key is always 8 bytes.
		panic(err)
	}
	out := make([]byte, des.BlockSize)
	cb.Encrypt(out, block[:des.BlockSize])
	return out
}

// DESDecrypt decrypts one 8-byte block with a 7-byte key.
func DESDecrypt(key, block []byte) []byte {
	cb, err := des.NewCipher(ExpandDESKey(key))
	if err != nil {
		panic(err)
	}
	out := make([]byte, des.BlockSize)
	cb.Decrypt(out, block[:des.BlockSize])
	return out
}

// NtPasswordHash returns MD4(UTF-16LE(password)).
func NtPasswordHash(password string) ([]byte, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	pwd, err := encoder.Bytes([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("failed to encode password as UTF-16LE: %w", err)
	}
	h := md4.New()
	h.Write(pwd)
	return h.Sum(nil), nil
}

// HashNtPasswordHash returns MD4(passwordHash).
func HashNtPasswordHash(passwordHash []byte) []byte {
	h := md4.New()
	h.Write(passwordHash)
	return h.Sum(nil)
}

// ChallengeHash returns SHA1(peerChallenge || authenticatorChallenge || username)[0:8].
func ChallengeHash(peerChallenge, authenticatorChallenge []byte, username string) []byte {
	h := sha1.New()
	h.Write(peerChallenge)
	h.Write(authenticatorChallenge)
	h.Write([]byte(username))
	return h.Sum(nil)[:ChallengeSize]
}

// DESKeys splits an NT hash into the three 7-byte DES keys K1, K2 and K3.
// K3 is the last two hash bytes followed by five zero bytes.
func DESKeys(ntHash []byte) (k1, k2, k3 []byte) {
	if len(ntHash) != NTHashSize {
		panic(fmt.Sprintf("mschap: NT hash must be %d bytes, got %d", NTHashSize, len(ntHash)))
	}
	padded := make([]byte, 21)
	copy(padded, ntHash)
	return padded[0:7], padded[7:14], padded[14:21]
}

// ChallengeResponse computes the 24-byte NT-Response for an 8-byte challenge.
func ChallengeResponse(challenge, ntHash []byte) []byte {
	k1, k2, k3 := DESKeys(ntHash)
	response := make([]byte, 0, NTResponseSize)
	response = append(response, DESEncrypt(k1, challenge)...)
	response = append(response, DESEncrypt(k2, challenge)...)
	response = append(response, DESEncrypt(k3, challenge)...)
	return response
}
