package jingle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// TestAvFlags тестирует кодирование набора дорожек в атрибут media
func TestAvFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags AvFlags
		attr  string
	}{
		{"Только звук", AvFlags{Audio: true}, "a"},
		{"Только видео", AvFlags{Video: true}, "v"},
		{"Звук и видео", AvFlags{Audio: true, Video: true}, "av"},
		{"Пустой набор", AvFlags{}, "_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.attr, tt.flags.MediaAttr())
			assert.Equal(t, tt.flags, ParseMediaAttr(tt.attr))
		})
	}

	// Посторонние символы игнорируются.
	assert.Equal(t, AvFlags{Audio: true}, ParseMediaAttr("xax"))
	assert.Equal(t, AvFlags{}, ParseMediaAttr(""))
}

// TestParseIceServers тестирует разбор списка STUN/TURN серверов
func TestParseIceServers(t *testing.T) {
	servers, err := ParseIceServers(
		"url:stun:stun.example.net:3478;" +
			"url:turn:turn.example.net:443?transport=tcp,user:u1,pass:p1;")
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "stun:stun.example.net:3478", servers[0].URL)
	assert.Empty(t, servers[0].User)
	assert.Equal(t, "turn:turn.example.net:443?transport=tcp", servers[1].URL)
	assert.Equal(t, "u1", servers[1].User)
	assert.Equal(t, "p1", servers[1].Pass)

	// Пустая спецификация допустима.
	servers, err = ParseIceServers("")
	require.NoError(t, err)
	assert.Empty(t, servers)

	_, err = ParseIceServers("user:u1")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))

	_, err = ParseIceServers("url:stun:x,badkey:1")
	require.Error(t, err)
}

func testContents(fprs ...stanza.Fingerprint) []stanza.Content {
	tr := stanza.NewIceUdpTransport()
	tr.Fingerprints = fprs
	return []stanza.Content{{Name: "audio", Transport: tr}}
}

// TestFingerprintMAC тестирует подпись и проверку отпечатков
// Проверяет:
// - Независимость MAC от порядка отпечатков
// - Отклонение подделанного отпечатка и пустого MAC
// - Отклонение MAC на чужом ключе
func TestFingerprintMAC(t *testing.T) {
	crypto := NewDummyCrypto("alice@example.net")

	fp1 := stanza.Fingerprint{Hash: "sha-256", Value: "AA:BB"}
	fp2 := stanza.Fingerprint{Hash: "sha-256", Value: "CC:DD"}

	mac, err := computeFingerprintMAC(crypto, testContents(fp1, fp2), "key1")
	require.NoError(t, err)
	require.NotEmpty(t, mac)

	// Порядок отпечатков не влияет на результат.
	mac2, err := computeFingerprintMAC(crypto, testContents(fp2, fp1), "key1")
	require.NoError(t, err)
	assert.Equal(t, mac, mac2)

	assert.True(t, verifyFingerprintMAC(crypto, testContents(fp1, fp2), "key1", mac))
	assert.False(t, verifyFingerprintMAC(crypto, testContents(fp1, fp2), "key1", ""),
		"пустой MAC должен отвергаться")
	assert.False(t, verifyFingerprintMAC(crypto, testContents(fp1, fp2), "key2", mac),
		"MAC на чужом ключе должен отвергаться")

	tampered := stanza.Fingerprint{Hash: "sha-256", Value: "AA:BE"}
	assert.False(t, verifyFingerprintMAC(crypto, testContents(tampered, fp2), "key1", mac),
		"подменённый отпечаток должен отвергаться")

	// Без отпечатков MAC не вычисляется.
	_, err = computeFingerprintMAC(crypto, testContents(), "key1")
	require.Error(t, err)
}

// TestDummyCrypto тестирует обратимость шифрования ключа
func TestDummyCrypto(t *testing.T) {
	alice := NewDummyCrypto("alice@example.net")
	bob := NewDummyCrypto("bob@example.net")

	require.NoError(t, alice.PreloadCryptoForJid(context.Background(), "bob@example.net"))

	key := alice.GenerateFprMacKey()
	assert.Len(t, key, 32)

	enc, err := alice.EncryptMessageForJid(key, "bob@example.net")
	require.NoError(t, err)
	assert.NotEqual(t, key, enc)

	dec, err := bob.DecryptMessage(enc)
	require.NoError(t, err)
	assert.Equal(t, key, dec)

	// Без preload шифрование недоступно.
	_, err = alice.EncryptMessageForJid(key, "carol@example.net")
	require.Error(t, err)

	_, err = bob.DecryptMessage("не hex")
	require.Error(t, err)
}

// TestMakeCallID проверяет формат и уникальность идентификаторов
func TestMakeCallID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := MakeCallID()
		assert.Len(t, id, 16)
		_, dup := seen[id]
		assert.False(t, dup, "идентификаторы не должны повторяться")
		seen[id] = struct{}{}
	}
}

// TestSessionFSM тестирует допустимые и запрещённые переходы автомата
// Проверяет:
// - Штатный путь null → pending → active → ended
// - Завершение из любого живого состояния
// - Запрет establish вне pending и initiate вне null
func TestSessionFSM(t *testing.T) {
	ctx := context.Background()

	t.Run("Штатный путь", func(t *testing.T) {
		m := newSessionFSM()
		assert.Equal(t, StateNull, m.Current())
		require.NoError(t, m.Event(ctx, evInitiate))
		assert.Equal(t, StatePending, m.Current())
		require.NoError(t, m.Event(ctx, evEstablish))
		assert.Equal(t, StateActive, m.Current())
		require.NoError(t, m.Event(ctx, evTerminate))
		assert.Equal(t, StateEnded, m.Current())
	})

	t.Run("Завершение до переговоров", func(t *testing.T) {
		m := newSessionFSM()
		require.NoError(t, m.Event(ctx, evTerminate))
		assert.Equal(t, StateEnded, m.Current())
	})

	t.Run("Ошибка из pending", func(t *testing.T) {
		m := newSessionFSM()
		require.NoError(t, m.Event(ctx, evInitiate))
		require.NoError(t, m.Event(ctx, evFail))
		assert.Equal(t, StateError, m.Current())
	})

	t.Run("Запрещённые переходы", func(t *testing.T) {
		m := newSessionFSM()
		require.Error(t, m.Event(ctx, evEstablish),
			"establish из null должен быть запрещён")

		require.NoError(t, m.Event(ctx, evInitiate))
		require.Error(t, m.Event(ctx, evInitiate),
			"повторный initiate должен быть запрещён")

		require.NoError(t, m.Event(ctx, evTerminate))
		require.Error(t, m.Event(ctx, evEstablish),
			"завершённая сессия не оживает")
		require.Error(t, m.Event(ctx, evFail))
	})
}

// TestLoop тестирует цикл задач
// Проверяет:
// - Последовательность выполнения Post
// - Синхронность Sync
// - Отбрасывание задач после остановки
func TestLoop(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	var order []int
	loop.Post(func() { order = append(order, 1) })
	loop.Post(func() { order = append(order, 2) })
	loop.Sync(func() { order = append(order, 3) })
	assert.Equal(t, []int{1, 2, 3}, order)

	var fired atomic.Bool
	loop.AfterFunc(5*time.Millisecond, func() { fired.Store(true) })
	require.Eventually(t, fired.Load, time.Second, time.Millisecond)

	timer := loop.AfterFunc(time.Hour, func() { t.Error("таймер не должен сработать") })
	timer.Stop()

	cancel()
	loop.Sync(func() {})

	// После остановки Post не блокируется и не выполняет задачу.
	done := make(chan struct{})
	go func() {
		loop.Post(func() { t.Error("задача после остановки") })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post заблокировался после остановки цикла")
	}
}

// stubTransport копит отправленные строфы, ничего не доставляя.
type stubTransport struct {
	mu   sync.Mutex
	iqs  []*stanza.IQ
	msgs []*stanza.Message
}

func (tr *stubTransport) BoundJID() string { return "self@example.net/test" }

func (tr *stubTransport) SendMessage(m *stanza.Message) error {
	tr.mu.Lock()
	tr.msgs = append(tr.msgs, m)
	tr.mu.Unlock()
	return nil
}

func (tr *stubTransport) SendIQ(iq *stanza.IQ, _ IQResultFunc) {
	tr.mu.Lock()
	tr.iqs = append(tr.iqs, iq)
	tr.mu.Unlock()
}

func (tr *stubTransport) SendIQResponse(*stanza.IQ) error { return nil }

func (tr *stubTransport) AddMessageHandler(MessageFilter, MessageHandlerFunc) func() {
	return func() {}
}

func (tr *stubTransport) sentIQs() []*stanza.IQ {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]*stanza.IQ(nil), tr.iqs...)
}

const stubOfferSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 5000 RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:audio\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:efghijklmnopqrstuvwx\r\n" +
	"a=fingerprint:sha-256 AA:BB:CC:DD\r\n" +
	"a=setup:actpass\r\n" +
	"a=sendrecv\r\n"

// stubEngine отдаёт фиксированный offer; CreateOffer блокируется
// до закрытия offerReady.
type stubEngine struct {
	offerReady chan struct{}
	offers     atomic.Int32
}

func (e *stubEngine) CreateOffer(ctx context.Context) (string, error) {
	e.offers.Add(1)
	select {
	case <-e.offerReady:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return stubOfferSDP, nil
}

func (e *stubEngine) CreateAnswer(context.Context) (string, error) { return stubOfferSDP, nil }

func (e *stubEngine) SetLocalDescription(context.Context, string, string) error  { return nil }
func (e *stubEngine) SetRemoteDescription(context.Context, string, string) error { return nil }
func (e *stubEngine) AddIceCandidate(MediaCandidate) error                       { return nil }
func (e *stubEngine) RemoteAv() AvFlags                                          { return AvFlags{} }
func (e *stubEngine) SelectedRelay() (bool, bool)                                { return false, false }
func (e *stubEngine) Close()                                                     {}

type stubMediaProvider struct {
	engine *stubEngine
}

func (p *stubMediaProvider) GetUserMedia(context.Context, AvFlags, bool) (LocalMedia, error) {
	return nil, nil
}

func (p *stubMediaProvider) NewMediaEngine(MediaEngineConfig) (MediaEngine, error) {
	return p.engine, nil
}

// TestDuplicateInitiateIgnored тестирует повторный запуск переговоров
// Проверяет:
// - Повторный initiate во время подготовки offer не трогает сессию
// - Offer создаётся и session-initiate уходит ровно один раз
// - initiate после отправки offer тоже безопасный no-op
func TestDuplicateInitiateIgnored(t *testing.T) {
	tr := &stubTransport{}
	engine := &stubEngine{offerReady: make(chan struct{})}
	c, err := NewController(Config{
		Transport: tr,
		Media:     &stubMediaProvider{engine: engine},
		Crypto:    NewDummyCrypto("self@example.net"),
		OnEvent:   func(Event) {},
	})
	require.NoError(t, err)
	defer c.Close()

	var s *Session
	var newErr error
	c.loop.Sync(func() {
		s, newErr = newSession(c, "sid-dup", "peer@example.net/r", true,
			nil, "ownkey", "peerkey", "anon-peer")
		if newErr != nil {
			return
		}
		c.sessions[s.sid] = s
		s.initiateOutgoing()
		// Повторный вызов, пока offer ещё готовится.
		s.initiateOutgoing()
	})
	require.NoError(t, newErr)

	c.loop.Sync(func() {
		assert.Equal(t, StatePending, s.State())
		assert.False(t, s.terminated)
	})

	close(engine.offerReady)
	require.Eventually(t, func() bool {
		return len(tr.sentIQs()) == 1
	}, time.Second, 5*time.Millisecond)

	c.loop.Sync(func() {
		s.initiateOutgoing()
		assert.Equal(t, StatePending, s.State())
		assert.False(t, s.terminated)
	})
	assert.Equal(t, int32(1), engine.offers.Load())
	require.Len(t, tr.sentIQs(), 1)
	assert.Equal(t, stanza.ActionSessionInitiate, tr.sentIQs()[0].Jingle.Action)
}

// TestErrorCode тестирует коды ошибок движка
func TestErrorCode(t *testing.T) {
	err := newError(CodeInvalidArgument, "StartMediaCall", "empty peer jid")
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
	assert.Contains(t, err.Error(), "INVALID_ARGUMENT")
	assert.Contains(t, err.Error(), "StartMediaCall")

	wrapped := wrapError(CodeNoLocalMedia, "GetUserMedia", err)
	assert.Equal(t, CodeNoLocalMedia, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, err)

	assert.Equal(t, CodeUnknown, CodeOf(context.Canceled))
}
