// Package pass turns registrations into downloadable visitor passes and
// serves them over HTTP.
package pass

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/visitor-pass/internal/capture"
	"github.com/zombor/visitor-pass/internal/compose"
)

// IDGenerator generates unique IDs for ledger entries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service renders passes from registrations
type Service struct {
	db           DB
	assets       Storage
	templatePath string
	layout       compose.Layout
	idGenerator  IDGenerator
	timeSource   TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, assets Storage, templatePath string, layout compose.Layout) *Service {
	return NewServiceWithDeps(db, assets, templatePath, layout, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, assets Storage, templatePath string, layout compose.Layout, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:           db,
		assets:       assets,
		templatePath: templatePath,
		layout:       layout,
		idGenerator:  idGen,
		timeSource:   timeSrc,
	}
}

// Generate renders the pass for rec and records the export. Every call
// starts from the template on disk, so a failed attempt can simply be
// retried.
func (s *Service) Generate(rec capture.RegistrationRecord) (*compose.Download, *Pass, error) {
	template, err := s.assets.Get(s.templatePath)
	if err != nil {
		slog.Error("Failed to load template", "path", s.templatePath, "error", err)
		return nil, nil, fmt.Errorf("%w: %v", compose.ErrTemplateLoad, err)
	}

	photo := rec.Photo()
	result, err := compose.Compose(template, photo.Bytes(), rec.Name(), s.layout)
	if err != nil {
		slog.Error("Failed to compose pass",
			"template", s.templatePath,
			"photo_type", photo.MIMEType(),
			"photo_size", photo.Size(),
			"error", err,
		)
		return nil, nil, fmt.Errorf("composing pass: %w", err)
	}

	now := s.timeSource.Now()
	download, err := compose.Export(result, rec.Name(), now)
	if err != nil {
		return nil, nil, fmt.Errorf("exporting pass: %w", err)
	}

	p := &Pass{
		ID:        s.idGenerator.Generate(),
		Filename:  download.Filename,
		Width:     download.Width,
		Height:    download.Height,
		Size:      len(download.Data),
		CreatedAt: now,
	}
	if err := s.db.SavePass(p); err != nil {
		// The download is still good; only the ledger misses an entry.
		slog.Warn("Failed to record export", "filename", p.Filename, "error", err)
	}

	return download, p, nil
}

// GetPass retrieves a ledger entry by ID
func (s *Service) GetPass(id string) (*Pass, error) {
	p, err := s.db.GetPass(id)
	if err != nil {
		return nil, fmt.Errorf("getting pass: %w", err)
	}
	return p, nil
}

// ListPasses returns all ledger entries
func (s *Service) ListPasses() ([]*Pass, error) {
	passes, err := s.db.ListPasses()
	if err != nil {
		return nil, fmt.Errorf("listing passes: %w", err)
	}
	return passes, nil
}
