package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Secrets file configuration.
const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768 // 2^15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

// Secrets holds decrypted secrets in memory with env-var fallback.
type Secrets struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSecrets creates an empty in-memory secrets store.
func NewSecrets() *Secrets {
	return &Secrets{values: make(map[string]string)}
}

// Get returns a secret value by name using standard precedence:
// 1. Decrypted secrets file (in memory)
// 2. Environment variables.
func (s *Secrets) Get(name string) (string, error) {
	s.mu.RLock()
	value, ok := s.values[name]
	s.mu.RUnlock()
	if ok && value != "" {
		return value, nil
	}

	if value := os.Getenv(name); value != "" {
		return value, nil
	}

	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// GetOptional returns a secret or "" without an error when missing.
func (s *Secrets) GetOptional(name string) string {
	value, err := s.Get(name)
	if err != nil {
		return ""
	}
	return value
}

// Set stores a secret value in memory.
func (s *Secrets) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Names returns the stored secret names (not values).
func (s *Secrets) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	return names
}

// secretsPath returns the encrypted secrets file location for a data dir.
func secretsPath(dataDir string) string {
	return filepath.Join(dataDir, secretsFileName)
}

// SaveToFile encrypts and writes the in-memory secrets to
// <dataDir>/secrets.json.enc with 0600 permissions.
// File layout: [salt][nonce][ciphertext+tag].
func (s *Secrets) SaveToFile(dataDir, password string) error {
	s.mu.RLock()
	secrets := make(map[string]string, len(s.values))
	for k, v := range s.values {
		secrets[k] = v
	}
	s.mu.RUnlock()

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	defer zero(key)

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(secretsPath(dataDir), fileData, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}

	return nil
}

// LoadFromFile decrypts <dataDir>/secrets.json.enc into the in-memory store.
func (s *Secrets) LoadFromFile(dataDir, password string) error {
	path := secretsPath(dataDir)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0o600 {
		if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
			return fmt.Errorf("failed to fix secrets file permissions: %w", chmodErr)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	minSize := saltSize + nonceSize + 16 // 16 is GCM tag size
	if len(fileData) < minSize {
		return fmt.Errorf("secrets file is corrupted or invalid format (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("failed to derive decryption key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return fmt.Errorf("failed to unmarshal secrets: %w", err)
	}

	s.mu.Lock()
	s.values = secrets
	s.mu.Unlock()
	return nil
}

// SecretsFileExists reports whether an encrypted secrets file is present.
func SecretsFileExists(dataDir string) bool {
	_, err := os.Stat(secretsPath(dataDir))
	return err == nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
