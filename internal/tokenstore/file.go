package tokenstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// encryptedMagic は暗号化済みトークンファイルの先頭に付与する識別子。
var encryptedMagic = []byte("MFGTOK1\n")

// hkdfInfo は鍵導出時のコンテキスト文字列。
const hkdfInfo = "mfgconsole token file v1"

// FileStore はトークンをローカルファイルに保存するStore。
// ファイルは所有者のみ読み書き可能（0600）で作成し、一時ファイル経由で置き換える。
// secretが設定されている場合はXChaCha20-Poly1305で暗号化する。
type FileStore struct {
	path string
	key  []byte // nilの場合は平文で保存する
}

// NewFileStore はFileStoreを生成する。
// secretが空でない場合、HKDF-SHA256で導出した鍵でファイルを暗号化する。
func NewFileStore(path, secret string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("token file path is required")
	}
	s := &FileStore{path: path}
	if secret != "" {
		key, err := deriveKey(secret)
		if err != nil {
			return nil, err
		}
		s.key = key
	}
	return s, nil
}

// Path はトークンファイルのパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// Load はファイルからトークンを読み込む。
func (s *FileStore) Load(_ context.Context) (Tokens, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Tokens{}, ErrNotFound
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to read token file: %w", err)
	}

	if bytes.HasPrefix(data, encryptedMagic) {
		if s.key == nil {
			return Tokens{}, errors.New("token file is encrypted but TOKEN_SECRET is not set")
		}
		data, err = s.open(data[len(encryptedMagic):])
		if err != nil {
			return Tokens{}, err
		}
	}

	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return Tokens{}, fmt.Errorf("failed to decode token file: %w", err)
	}
	if tokens.Empty() {
		return Tokens{}, ErrNotFound
	}
	return tokens, nil
}

// Save はトークンをファイルへ書き込む。
func (s *FileStore) Save(_ context.Context, tokens Tokens) error {
	if tokens.UpdatedAt.IsZero() {
		tokens.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if s.key != nil {
		sealed, err := s.seal(data)
		if err != nil {
			return err
		}
		data = append(append([]byte{}, encryptedMagic...), sealed...)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Clear はトークンファイルを削除する。
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (s *FileStore) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *FileStore) open(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("token file is truncated")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token file (wrong TOKEN_SECRET?): %w", err)
	}
	return plaintext, nil
}

// deriveKey はsecretからXChaCha20-Poly1305用の256bit鍵を導出する。
func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}
	return key, nil
}

// compile-time interface check
var _ Store = (*FileStore)(nil)
