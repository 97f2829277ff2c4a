package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/logger"
)

const (
	DefaultEnvPrefix = "QBT_"
	encryptedPrefix  = "ENC:"

	// EncryptionKeyVar 加密口令所在的环境变量（不带前缀）
	EncryptionKeyVar = "encryption_key"
)

// EnvManager 读取带前缀的环境变量，ENC: 开头的值按口令解密
type EnvManager struct {
	key    []byte
	prefix string
}

// NewEnvManager 创建环境变量管理器；passphrase 为空时读取 QBT_ENCRYPTION_KEY
func NewEnvManager(passphrase string, prefix string) *EnvManager {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	if passphrase == "" {
		passphrase = os.Getenv(DefaultEnvPrefix + strings.ToUpper(EncryptionKeyVar))
	}

	key, err := scrypt.Key([]byte(passphrase), []byte("qbt-salt"), 32768, 8, 1, 32)
	if err != nil {
		logger.Warn("Failed to derive encryption key", "error", err.Error())
	}
	return &EnvManager{key: key, prefix: prefix}
}

// Name 返回带前缀的变量名
func (em *EnvManager) Name(key string) string {
	return em.prefix + strings.ToUpper(key)
}

// GetString 读取字符串，未设置时返回默认值
func (em *EnvManager) GetString(key string, defaultValue string) string {
	if v := os.Getenv(em.Name(key)); v != "" {
		return v
	}
	return defaultValue
}

// lookup 解析变量；未设置或无法解析时返回默认值
func lookup[T any](em *EnvManager, key string, def T, parse func(string) (T, error)) T {
	raw := em.GetString(key, "")
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		logger.Warn("Ignoring malformed environment value", "key", em.Name(key), "value", raw)
		return def
	}
	return v
}

func (em *EnvManager) GetInt(key string, defaultValue int) int {
	return lookup(em, key, defaultValue, strconv.Atoi)
}

func (em *EnvManager) GetFloat(key string, defaultValue float64) float64 {
	return lookup(em, key, defaultValue, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func (em *EnvManager) GetBool(key string, defaultValue bool) bool {
	return lookup(em, key, defaultValue, strconv.ParseBool)
}

func (em *EnvManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	return lookup(em, key, defaultValue, time.ParseDuration)
}

// GetEncryptedString 读取可能加密的值；解密失败时返回默认值
func (em *EnvManager) GetEncryptedString(key string, defaultValue string) string {
	raw := em.GetString(key, "")
	if raw == "" {
		return defaultValue
	}
	if !strings.HasPrefix(raw, encryptedPrefix) {
		return raw
	}

	plain, err := em.Decrypt(raw)
	if err != nil {
		logger.Warn("Failed to decrypt environment value", "key", em.Name(key), "error", err.Error())
		return defaultValue
	}
	return plain
}

// Encrypt 使用 AES-CFB 加密，返回 ENC: 前缀的 base64 密文
func (em *EnvManager) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(em.key)
	if err != nil {
		return "", apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "invalid encryption key", err)
	}

	buf := make([]byte, aes.BlockSize+len(plaintext))
	iv := buf[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", apperrors.NewAppError(apperrors.ErrCodeInternal, "failed to generate iv", err)
	}
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(buf[aes.BlockSize:], []byte(plaintext))

	return encryptedPrefix + base64.URLEncoding.EncodeToString(buf), nil
}

// Decrypt 解密 Encrypt 的输出，ENC: 前缀可省略
func (em *EnvManager) Decrypt(value string) (string, error) {
	buf, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "malformed encrypted value", err)
	}
	if len(buf) < aes.BlockSize {
		return "", apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "encrypted value too short", nil)
	}
	block, err := aes.NewCipher(em.key)
	if err != nil {
		return "", apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "invalid encryption key", err)
	}

	iv, data := buf[:aes.BlockSize], buf[aes.BlockSize:]
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(data, data)
	return string(data), nil
}

// ValidateRequired 检查变量均已设置，一次列出所有缺失项
func (em *EnvManager) ValidateRequired(required []string) error {
	var missing []string
	for _, key := range required {
		if em.GetString(key, "") == "" {
			missing = append(missing, em.Name(key))
		}
	}
	if len(missing) > 0 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"missing required environment variables", strings.Join(missing, ", "), nil)
	}
	return nil
}
