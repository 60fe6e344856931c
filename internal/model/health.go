package model

// HealthStatus показывает доступность зависимостей сервиса.
type HealthStatus struct {
	Database bool `json:"database"`
	Cache    bool `json:"cache"`
}

// OK сообщает, что все зависимости доступны.
func (h HealthStatus) OK() bool {
	return h.Database && h.Cache
}
