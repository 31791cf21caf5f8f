package server

import (
	"sync"

	"github.com/CK6170/ccdscope-go/file"
	"github.com/CK6170/ccdscope-go/models"
	"github.com/CK6170/ccdscope-go/protocol"
)

// ParamStore holds the instrument configuration the server was started
// with and writes settings edits back to its file.
type ParamStore struct {
	mu   sync.RWMutex
	path string
	p    *models.PARAMETERS
}

// NewParamStore wraps p. An empty path keeps edits in memory only.
func NewParamStore(path string, p *models.PARAMETERS) *ParamStore {
	if p == nil {
		p = models.Default()
	}
	return &ParamStore{path: path, p: p}
}

// Get returns the current configuration. Callers must not modify it.
func (s *ParamStore) Get() *models.PARAMETERS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

// SetAcquisition records accepted acquisition parameters.
func (s *ParamStore) SetAcquisition(a protocol.AcquisitionParameters) error {
	return s.update(func(p *models.PARAMETERS) {
		p.ACQUISITION = &models.ACQUISITION{SH: a.SHPeriod, ICG: a.ICGPeriod, INTEGRATIONS: a.Integrations}
	})
}

// SetUnit records the display unit.
func (s *ParamStore) SetUnit(u models.Unit) error {
	return s.update(func(p *models.PARAMETERS) { p.UNIT = u })
}

// update copies the configuration, applies fn and persists the copy.
func (s *ParamStore) update(fn func(p *models.PARAMETERS)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.p
	fn(&next)
	s.p = &next
	if s.path == "" {
		return nil
	}
	return file.PersistParameters(s.path, s.p)
}
