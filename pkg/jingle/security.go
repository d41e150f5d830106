package jingle

import (
	"crypto/subtle"
	"errors"
	"sort"
	"strings"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// errNoFingerprints возвращается, когда в содержимом Jingle-строфы
// нет ни одного DTLS-отпечатка.
var errNoFingerprints = errors.New("jingle: no fingerprints in session contents")

// fingerprintsForMac собирает канонический вид отпечатков из contents:
// уникальные строки "hash value" сортируются и склеиваются через ';'.
// Порядок элементов в строфе на результат не влияет, поэтому обе
// стороны получают одинаковую строку для MAC.
func fingerprintsForMac(contents []stanza.Content) (string, error) {
	seen := make(map[string]struct{})
	var fprs []string
	for _, c := range contents {
		if c.Transport == nil {
			continue
		}
		for _, fp := range c.Transport.Fingerprints {
			s := fp.Hash + " " + strings.TrimSpace(fp.Value)
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			fprs = append(fprs, s)
		}
	}
	if len(fprs) == 0 {
		return "", errNoFingerprints
	}
	sort.Strings(fprs)
	return strings.Join(fprs, ";"), nil
}

// computeFingerprintMAC считает MAC от отпечатков contents на ключе key.
func computeFingerprintMAC(c Crypto, contents []stanza.Content, key string) (string, error) {
	data, err := fingerprintsForMac(contents)
	if err != nil {
		return "", err
	}
	return c.GenerateMac(data, key), nil
}

// verifyFingerprintMAC сверяет mac со значением, ожидаемым для contents
// и ключа key. Сравнение выполняется за постоянное время. Пустой или
// отсутствующий mac всегда считается неверным.
func verifyFingerprintMAC(c Crypto, contents []stanza.Content, key, mac string) bool {
	if mac == "" {
		return false
	}
	expected, err := computeFingerprintMAC(c, contents, key)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(mac)) == 1
}
