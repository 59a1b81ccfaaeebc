// Package progress хранит состояние обработки видео для опроса клиентами.
package progress

import (
	"sync"

	"pose-tracker-go/pkg/models"
)

// Registry потокобезопасный реестр прогресса по id видео
type Registry struct {
	mu      sync.RWMutex
	entries map[string]models.Progress
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]models.Progress)}
}

// Start регистрирует видео в стадии ожидания, перезаписывая прежнюю запись
func (r *Registry) Start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = models.Progress{Stage: models.StageQueued, Message: "Waiting for processing slot"}
}

// Update перезаписывает запись; для незарегистрированного id ничего не делает и возвращает false
func (r *Registry) Update(id, stage string, percent float64, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	r.entries[id] = models.Progress{Stage: stage, Progress: percent, Message: message}
	return true
}

// Get возвращает запись и признак ее наличия
func (r *Registry) Get(id string) (models.Progress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.entries[id]
	return p, ok
}

// Remove удаляет запись
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
