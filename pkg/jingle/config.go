package jingle

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения тайм-аутов по умолчанию.
const (
	// DefaultAnswerTimeout — сколько вызывающий ждёт ответа на запрос звонка.
	DefaultAnswerTimeout = 50 * time.Second
	// DefaultInitiateTimeout — сколько принявшая сторона ждёт
	// session-initiate после отправки megaCallAnswer.
	DefaultInitiateTimeout = 15 * time.Second
	// ringingGrace — запас к AnswerTimeout, в течение которого входящий
	// запрос всё ещё считается действительным на принимающей стороне.
	ringingGrace = 10 * time.Second
)

// Config — параметры контроллера. Transport, Media, Crypto и OnEvent
// обязательны, остальные поля имеют разумные значения по умолчанию.
type Config struct {
	Transport Transport
	Media     MediaProvider
	Crypto    Crypto

	// OwnAnonID — наш анонимный идентификатор, передаваемый в строфах
	// запроса звонка.
	OwnAnonID string

	// IceServers — список STUN/TURN серверов в формате ParseIceServers.
	IceServers string

	// AnswerTimeout и InitiateTimeout; нулевое значение — по умолчанию.
	AnswerTimeout   time.Duration
	InitiateTimeout time.Duration

	// VideoPreviewPolicy включает события EventLocalVideoEnabled /
	// EventLocalVideoDisabled при фактической смене состояния локального видео.
	VideoPreviewPolicy bool

	// OnEvent — обработчик событий движка.
	OnEvent EventHandler

	// Logger — журнал; nil означает slog.Default().
	Logger *slog.Logger

	// Metrics — реестр Prometheus; nil отключает экспорт метрик.
	Metrics prometheus.Registerer
}

// Validate проверяет обязательные поля.
func (c *Config) Validate() error {
	if c.Transport == nil {
		return errors.New("jingle: Config.Transport is required")
	}
	if c.Media == nil {
		return errors.New("jingle: Config.Media is required")
	}
	if c.Crypto == nil {
		return errors.New("jingle: Config.Crypto is required")
	}
	if c.OnEvent == nil {
		return errors.New("jingle: Config.OnEvent is required")
	}
	if c.IceServers != "" {
		if _, err := ParseIceServers(c.IceServers); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) answerTimeout() time.Duration {
	if c.AnswerTimeout > 0 {
		return c.AnswerTimeout
	}
	return DefaultAnswerTimeout
}

func (c *Config) initiateTimeout() time.Duration {
	if c.InitiateTimeout > 0 {
		return c.InitiateTimeout
	}
	return DefaultInitiateTimeout
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
