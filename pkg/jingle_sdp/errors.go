package jingle_sdp

import (
	"errors"
	"fmt"
)

// Базовые ошибки кодека. Обёртки добавляют контекст через %w, поэтому
// вызывающий код проверяет их errors.Is.
var (
	// ErrMalformedSDP — документ не разбирается: меньше двух блоков после
	// разбиения по m=, либо сама m-линия неполная.
	ErrMalformedSDP = errors.New("malformed SDP")
	// ErrMalformedFingerprint — строка a=fingerprint не имеет вид
	// "a=fingerprint:<hash> <value>".
	ErrMalformedFingerprint = errors.New("malformed fingerprint line")
	// ErrMalformedCandidate — строка a=candidate не позиционно корректна
	// (седьмой токен не "typ").
	ErrMalformedCandidate = errors.New("malformed candidate line")
)

func malformedSDP(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedSDP, fmt.Sprintf(format, args...))
}

func malformedFingerprint(line string) error {
	return fmt.Errorf("%w: %q", ErrMalformedFingerprint, line)
}

func malformedCandidate(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedCandidate, fmt.Sprintf(format, args...))
}
