package pipeline

import (
	"sync"

	"github.com/andrejsstepanovs/fairytale/pkg/tts"
	"github.com/google/uuid"
)

// AudioStore holds generated narration behind opaque handles until released.
type AudioStore struct {
	mu    sync.RWMutex
	items map[string]tts.Audio
}

func NewAudioStore() *AudioStore {
	return &AudioStore{items: make(map[string]tts.Audio)}
}

// Put stores audio and returns its handle.
func (s *AudioStore) Put(audio tts.Audio) string {
	handle := uuid.NewString()
	s.mu.Lock()
	s.items[handle] = audio
	s.mu.Unlock()
	return handle
}

func (s *AudioStore) Get(handle string) (tts.Audio, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	audio, ok := s.items[handle]
	return audio, ok
}

// Release drops the audio behind handle. It reports true only for the call
// that actually released it.
func (s *AudioStore) Release(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[handle]; !ok {
		return false
	}
	delete(s.items, handle)
	return true
}

func (s *AudioStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
