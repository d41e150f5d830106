package mediastub

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/dtls/v2/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	"github.com/pion/randutil"

	"github.com/arzzra/jingle_call/pkg/jingle"
)

// ErrNoDevices возвращается, когда не удалось получить ни одной дорожки.
var ErrNoDevices = errors.New("mediastub: no devices available")

// Provider — фабрика заглушек. Поля Deny* позволяют смоделировать
// занятую камеру или отсутствующий микрофон, Fail — полный отказ
// получения устройств.
type Provider struct {
	DenyAudio bool
	DenyVideo bool
	Fail      bool

	mu       sync.Mutex
	nextPort int
}

var _ jingle.MediaProvider = (*Provider)(nil)

// NewProvider создаёт провайдер.
func NewProvider() *Provider {
	return &Provider{nextPort: 50000}
}

// GetUserMedia возвращает дорожки av за вычетом запрещённых.
func (p *Provider) GetUserMedia(_ context.Context, av jingle.AvFlags, allowEmpty bool) (jingle.LocalMedia, error) {
	if p.Fail {
		return nil, ErrNoDevices
	}
	got := av
	if p.DenyAudio {
		got.Audio = false
	}
	if p.DenyVideo {
		got.Video = false
	}
	if !got.Any() && !allowEmpty {
		return nil, ErrNoDevices
	}
	return &Tracks{av: got}, nil
}

// NewMediaEngine создаёт переговорную машину с самоподписанным
// DTLS-сертификатом и свежими ICE-параметрами.
func (p *Provider) NewMediaEngine(cfg jingle.MediaEngineConfig) (jingle.MediaEngine, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("mediastub: certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("mediastub: parse certificate: %w", err)
	}
	fp, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("mediastub: fingerprint: %w", err)
	}
	ufrag, err := randutil.GenerateCryptoRandomString(8, iceAlphabet)
	if err != nil {
		return nil, err
	}
	pwd, err := randutil.GenerateCryptoRandomString(24, iceAlphabet)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	port := p.nextPort
	p.nextPort++
	p.mu.Unlock()

	return &Engine{
		cfg:         cfg,
		fingerprint: fp,
		ufrag:       ufrag,
		pwd:         pwd,
		port:        port,
	}, nil
}

const iceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
