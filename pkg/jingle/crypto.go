package jingle

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/pion/randutil"
)

// Crypto абстрагирует криптографические операции, которые движку
// предоставляет объемлющее приложение: вычисление MAC от отпечатков,
// шифрование ключа MAC для конкретного собеседника и генерацию
// случайных идентификаторов.
type Crypto interface {
	// GenerateMac вычисляет MAC от data на ключе key.
	GenerateMac(data, key string) string
	// EncryptMessageForJid шифрует msg открытым ключом пользователя bareJid.
	// Ключ должен быть предварительно загружен через PreloadCryptoForJid.
	EncryptMessageForJid(msg, bareJid string) (string, error)
	// DecryptMessage расшифровывает msg собственным закрытым ключом.
	DecryptMessage(msg string) (string, error)
	// PreloadCryptoForJid загружает ключ пользователя bareJid, чтобы
	// последующие EncryptMessageForJid не блокировались.
	PreloadCryptoForJid(ctx context.Context, bareJid string) error
	// GenerateFprMacKey возвращает новый случайный ключ для MAC отпечатков.
	GenerateFprMacKey() string
	// GenerateRandomString возвращает случайную строку длины n
	// из алфавита [0-9a-zA-Z].
	GenerateRandomString(n int) string
}

const randomAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// DummyCrypto — встроенная реализация Crypto без настоящей асимметричной
// криптографии: MAC считается через HMAC-SHA256, а «шифрование» ключа —
// обратимый XOR с bare JID получателя. Подходит для тестов и для
// развёртываний, где канал уже защищён транспортом.
type DummyCrypto struct {
	ownJid string

	mu     sync.Mutex
	loaded map[string]struct{}
}

// NewDummyCrypto создаёт DummyCrypto, расшифровывающую сообщения
// для собственного bare JID ownJid.
func NewDummyCrypto(ownJid string) *DummyCrypto {
	return &DummyCrypto{
		ownJid: ownJid,
		loaded: make(map[string]struct{}),
	}
}

var _ Crypto = (*DummyCrypto)(nil)

// GenerateMac считает HMAC-SHA256 от data на ключе key и возвращает
// результат в base64.
func (d *DummyCrypto) GenerateMac(data, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// EncryptMessageForJid возвращает hex(msg XOR bareJid).
func (d *DummyCrypto) EncryptMessageForJid(msg, bareJid string) (string, error) {
	d.mu.Lock()
	_, ok := d.loaded[bareJid]
	d.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("crypto: key for %q not preloaded", bareJid)
	}
	return hex.EncodeToString(xorWithKey([]byte(msg), bareJid)), nil
}

// DecryptMessage обращает EncryptMessageForJid, выполненный
// для нашего собственного bare JID.
func (d *DummyCrypto) DecryptMessage(msg string) (string, error) {
	raw, err := hex.DecodeString(msg)
	if err != nil {
		return "", fmt.Errorf("crypto: bad ciphertext: %w", err)
	}
	return string(xorWithKey(raw, d.ownJid)), nil
}

// PreloadCryptoForJid отмечает ключ bareJid как загруженный.
func (d *DummyCrypto) PreloadCryptoForJid(_ context.Context, bareJid string) error {
	d.mu.Lock()
	d.loaded[bareJid] = struct{}{}
	d.mu.Unlock()
	return nil
}

// GenerateFprMacKey возвращает 32 случайных символа.
func (d *DummyCrypto) GenerateFprMacKey() string {
	return d.GenerateRandomString(32)
}

// GenerateRandomString возвращает n случайных символов из
// криптографического источника.
func (d *DummyCrypto) GenerateRandomString(n int) string {
	s, err := randutil.GenerateCryptoRandomString(n, randomAlphabet)
	if err != nil {
		// crypto/rand недоступен только при деградации всей системы,
		// но математический генератор всё же лучше пустой строки.
		return randutil.NewMathRandomGenerator().GenerateString(n, randomAlphabet)
	}
	return s
}

func xorWithKey(data []byte, key string) []byte {
	if key == "" {
		key = "\x00"
	}
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// MakeCallID возвращает случайный идентификатор сессии.
func MakeCallID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return randutil.NewMathRandomGenerator().GenerateString(16, "0123456789abcdef")
	}
	return hex.EncodeToString(b[:])
}
