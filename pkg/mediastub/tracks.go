package mediastub

import (
	"sync"

	"github.com/arzzra/jingle_call/pkg/jingle"
)

// Tracks — локальные дорожки-заглушки.
type Tracks struct {
	mu       sync.Mutex
	av       jingle.AvFlags
	disabled jingle.AvFlags
	released bool
}

var _ jingle.LocalMedia = (*Tracks)(nil)

// Av возвращает набор полученных дорожек.
func (t *Tracks) Av() jingle.AvFlags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.av
}

// SetEnabled включает либо выключает дорожки из набора what.
func (t *Tracks) SetEnabled(what jingle.AvFlags, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if what.Audio {
		t.disabled.Audio = !enabled
	}
	if what.Video {
		t.disabled.Video = !enabled
	}
}

// Enabled возвращает дорожки, которые сейчас не выключены.
func (t *Tracks) Enabled() jingle.AvFlags {
	t.mu.Lock()
	defer t.mu.Unlock()
	av := t.av
	if t.disabled.Audio {
		av.Audio = false
	}
	if t.disabled.Video {
		av.Video = false
	}
	return av
}

// Release освобождает дорожки.
func (t *Tracks) Release() {
	t.mu.Lock()
	t.released = true
	t.mu.Unlock()
}

// Released сообщает, были ли дорожки освобождены.
func (t *Tracks) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}
