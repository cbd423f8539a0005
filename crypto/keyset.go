package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxDenominationPower is the highest power-of-two denomination a keyset
// derives a key for (2^23), per the standard Cashu amount range.
const MaxDenominationPower = 23

// MintKeyset is one per-asset family of per-amount key pairs, identified by
// a 14-hex-character id derived from its public keys.
type MintKeyset struct {
	Id          string
	Unit        string
	AssetId     string
	Active      bool
	Keys        map[uint64]KeyPair
	InputFeePpk uint
	CreatedAt   int64
	FinalExpiry *int64
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// GenerateKeyset derives a fresh keyset for (assetId, unit) from the mint
// seed. For each standard denomination d = 2^0 .. 2^23:
//
//	priv_d = SHA256(seed || assetId || r || ASCII(d))
//	pub_d  = G * priv_d
//
// where r is 32 random bytes generated once per keyset. The keyset id is
// derived from the resulting public-key map.
func GenerateKeyset(seed []byte, assetId string, unit string, inputFeePpk uint, createdAt int64) (*MintKeyset, error) {
	r := make([]byte, 32)
	if _, err := rand.Read(r); err != nil {
		return nil, fmt.Errorf("generating keyset randomness: %v", err)
	}

	keys := make(map[uint64]KeyPair, MaxDenominationPower+1)
	pks := make(map[uint64]*secp256k1.PublicKey, MaxDenominationPower+1)

	for i := 0; i <= MaxDenominationPower; i++ {
		amount := uint64(1) << uint(i)

		h := sha256.New()
		h.Write(seed)
		h.Write([]byte(assetId))
		h.Write(r)
		h.Write([]byte(strconv.FormatUint(amount, 10)))
		digest := h.Sum(nil)

		privKey := secp256k1.PrivKeyFromBytes(digest)
		pubKey := privKey.PubKey()

		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: pubKey}
		pks[amount] = pubKey
	}

	return &MintKeyset{
		Id:          DeriveKeysetId(pks),
		Unit:        unit,
		AssetId:     assetId,
		Active:      true,
		Keys:        keys,
		InputFeePpk: inputFeePpk,
		CreatedAt:   createdAt,
	}, nil
}

type PublicKeys map[uint64]*secp256k1.PublicKey

// MarshalJSON renders keys in amount-ascending order, matching the wire
// contract clients expect from a keys response.
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, 0, len(pks))
	for k := range pks {
		amounts = append(amounts, k)
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(amount)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.Write(key)
		buf.WriteByte('"')
		buf.WriteByte(':')
		pubkey := hex.EncodeToString(pks[amount].SerializeCompressed())
		val, err := json.Marshal(pubkey)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks PublicKeys) UnmarshalJSON(data []byte) error {
	var tempKeys map[uint64]string
	if err := json.Unmarshal(data, &tempKeys); err != nil {
		return err
	}

	for amount, key := range tempKeys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		publicKey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key: %v", err)
		}
		pks[amount] = publicKey
	}
	return nil
}

// DeriveKeysetId derives the 14-hex-character keyset identifier, prefixed
// with the "00" version byte, from the sorted, concatenated compressed
// public keys of the keyset.
func DeriveKeysetId(keyset PublicKeys) string {
	type pubkey struct {
		amount uint64
		pk     *secp256k1.PublicKey
	}
	pubkeys := make([]pubkey, 0, len(keyset))
	for amount, key := range keyset {
		pubkeys = append(pubkeys, pubkey{amount, key})
	}
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].amount < pubkeys[j].amount
	})

	keys := make([]byte, 0, len(pubkeys)*33)
	for _, key := range pubkeys {
		keys = append(keys, key.pk.SerializeCompressed()...)
	}
	hash := sha256.Sum256(keys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// PublicKeys returns the keyset's public keys keyed by denomination.
func (ks *MintKeyset) PublicKeys() PublicKeys {
	pubkeys := make(PublicKeys, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = key.PublicKey
	}
	return pubkeys
}

// EncryptPrivateKey encrypts a 32-byte scalar with AES-256-CBC under a fresh
// random 16-byte IV, PKCS#7 padded to the cipher's block size. The result is
// rendered "iv_hex:ciphertext_hex" for storage.
func EncryptPrivateKey(key *secp256k1.PrivateKey, encryptionKey []byte) (string, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", fmt.Errorf("building AES cipher: %v", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating IV: %v", err)
	}

	plaintext := pkcs7Pad(key.Serialize(), aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey.
func DecryptPrivateKey(stored string, encryptionKey []byte) (*secp256k1.PrivateKey, error) {
	ivHex, ctHex, found := bytesCut(stored, ':')
	if !found {
		return nil, fmt.Errorf("malformed encrypted private key")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid IV")
	}

	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("building AES cipher: %v", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}

	return secp256k1.PrivKeyFromBytes(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, fmt.Errorf("invalid padding")
	}
	return data[:n-padLen], nil
}

func bytesCut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
