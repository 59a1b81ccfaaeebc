package pipeline

import "pose-tracker-go/internal/pose"

// Filter открывает фильтр процессора для тестов
func (p *Processor) Filter() *pose.StabilityFilter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filter
}
