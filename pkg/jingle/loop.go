package jingle

import (
	"context"
	"time"
)

// Loop — однопоточный цикл обработки задач. Всё состояние контроллера
// и сессий модифицируется только из задач, выполняемых этим циклом,
// поэтому внутри движка нет ни одной блокировки на горячем пути.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

// NewLoop создаёт цикл с буфером задач.
func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Run выполняет задачи до отмены ctx. Запускается в отдельной горутине
// один раз за время жизни цикла.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.tasks:
			f()
		}
	}
}

// Post ставит f в очередь цикла. После остановки цикла задача
// молча отбрасывается.
func (l *Loop) Post(f func()) {
	select {
	case <-l.done:
	default:
		select {
		case l.tasks <- f:
		case <-l.done:
		}
	}
}

// Sync выполняет f на цикле и дожидается завершения. Вызывать из задач
// самого цикла нельзя — это гарантированный deadlock; изнутри колбэков
// движка используйте прямые вызовы API.
func (l *Loop) Sync(f func()) {
	ch := make(chan struct{})
	l.Post(func() {
		f()
		close(ch)
	})
	select {
	case <-ch:
	case <-l.done:
	}
}

// AfterFunc планирует выполнение f на цикле через d. Возвращённый таймер
// можно остановить до срабатывания.
func (l *Loop) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(f)
	})
}
