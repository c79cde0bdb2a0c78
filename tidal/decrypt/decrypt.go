package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// masterKey unwraps every security token issued by the service.
const masterKey = "UIlTTEMmmLfGowo/UC60x2H45W6MdGgTRfo/umg4754="

const (
	ivSize    = aes.BlockSize
	keySize   = 16
	nonceSize = 8
)

var ErrMalformedToken = errors.New("malformed security token")

// Key is the content key and counter-mode nonce unwrapped from a security
// token. It lives only for the duration of one download.
type Key struct {
	Key   [keySize]byte
	Nonce [nonceSize]byte
}

// DecodeSecurityToken unwraps token: the first block is the CBC IV and the
// rest, decrypted with the master key, starts with the content key followed
// by the nonce.
func DecodeSecurityToken(token string) (*Key, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if nil != err {
		return nil, fmt.Errorf("%w: failed to decode base64: %v", ErrMalformedToken, err)
	}

	if len(raw) <= ivSize {
		return nil, fmt.Errorf("%w: token is %d bytes long", ErrMalformedToken, len(raw))
	}

	iv, enc := raw[:ivSize], raw[ivSize:]
	if len(enc)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: encrypted part is %d bytes long, not a multiple of the block size", ErrMalformedToken, len(enc))
	}

	if len(enc) < keySize+nonceSize {
		return nil, fmt.Errorf("%w: encrypted part is too short", ErrMalformedToken)
	}

	block, err := masterCipher()
	if nil != err {
		return nil, err
	}

	dec := make([]byte, len(enc))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(dec, enc)

	var k Key
	copy(k.Key[:], dec[:keySize])
	copy(k.Nonce[:], dec[keySize:keySize+nonceSize])

	return &k, nil
}

func masterCipher() (cipher.Block, error) {
	mk, err := base64.StdEncoding.DecodeString(masterKey)
	if nil != err {
		return nil, fmt.Errorf("failed to decode master key: %v", err)
	}

	block, err := aes.NewCipher(mk)
	if nil != err {
		return nil, fmt.Errorf("failed to create master key cipher: %v", err)
	}

	return block, nil
}

func (k Key) stream() (cipher.Stream, error) {
	block, err := aes.NewCipher(k.Key[:])
	if nil != err {
		return nil, fmt.Errorf("failed to create content cipher: %v", err)
	}

	var iv [aes.BlockSize]byte
	copy(iv[:], k.Nonce[:])

	return cipher.NewCTR(block, iv[:]), nil
}

// Stream applies the key stream to everything read from src. Counter mode is
// symmetric, so this both encrypts and decrypts.
func Stream(dst io.Writer, src io.Reader, k Key) (int64, error) {
	s, err := k.stream()
	if nil != err {
		return 0, err
	}

	n, err := io.Copy(dst, cipher.StreamReader{S: s, R: src})
	if nil != err {
		return n, fmt.Errorf("failed to apply key stream: %w", err)
	}

	return n, nil
}

// DecryptFile writes the plaintext of src to dst. src is left untouched and
// dst is removed if anything fails.
func DecryptFile(src, dst string, k Key) (err error) {
	if src == dst {
		return errors.New("decrypted file path must differ from the encrypted one")
	}

	in, err := os.Open(src)
	if nil != err {
		return fmt.Errorf("failed to open encrypted file: %v", err)
	}
	defer func() {
		if closeErr := in.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close encrypted file: %v", closeErr))
		}
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0600)
	if nil != err {
		return fmt.Errorf("failed to create decrypted file: %v", err)
	}
	defer func() {
		if closeErr := out.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close decrypted file: %v", closeErr))
		}

		if nil != err {
			if removeErr := os.Remove(dst); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove incomplete decrypted file: %v", removeErr))
			}
		}
	}()

	if _, err := Stream(out, in, k); nil != err {
		return fmt.Errorf("failed to decrypt file: %w", err)
	}

	if err := out.Sync(); nil != err {
		return fmt.Errorf("failed to sync decrypted file: %v", err)
	}

	return nil
}
