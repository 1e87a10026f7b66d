package export

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
)

// ViewSource materializes saved views.
type ViewSource interface {
	MaterializeView(ctx context.Context, viewID int64) (*grid.Materialized, error)
}

// ObjectStore receives stored exports and returns where they can be
// downloaded.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type Option func(*Service)

// WithObjectStore enables Request.Store.
func WithObjectStore(st ObjectStore) Option {
	return func(s *Service) { s.objects = st }
}

// WithPandoc sets the pandoc binary used for DOCX.
func WithPandoc(path string) Option {
	return func(s *Service) { s.pandoc = path }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service provides view export functionality
type Service struct {
	views   ViewSource
	objects ObjectStore
	pandoc  string
	now     func() time.Time
	log     *log.Entry
}

// NewService creates a new export service
func NewService(views ViewSource, opts ...Option) *Service {
	s := &Service{views: views, now: time.Now, log: log.WithField("component", "export")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Export materializes the view and renders it in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Store && s.objects == nil {
		return nil, ErrStoreUnavailable
	}
	m, err := s.views.MaterializeView(ctx, req.ViewID)
	if err != nil {
		return nil, fmt.Errorf("materialize view %d: %w", req.ViewID, err)
	}
	now := s.now()
	table, err := BuildTable(m, now)
	if err != nil {
		return nil, err
	}

	res, err := s.render(ctx, req.Format, table)
	if err != nil {
		return nil, err
	}

	if req.Store {
		res.ObjectKey = fmt.Sprintf("views/%d/%s-%s", req.ViewID, now.UTC().Format("20060102T150405Z"), res.Filename)
		res.URL, err = s.objects.Put(ctx, res.ObjectKey, res.MimeType, res.Data)
		if err != nil {
			return nil, fmt.Errorf("store export: %w", err)
		}
	}
	s.log.WithFields(log.Fields{
		"view_id": req.ViewID,
		"format":  req.Format,
		"rows":    table.Count,
		"bytes":   len(res.Data),
		"stored":  req.Store,
	}).Info("view exported")
	return res, nil
}

func (s *Service) render(ctx context.Context, f Format, t Table) (*Result, error) {
	switch f {
	case FormatCSV, "":
		return exportCSV(t)
	case FormatPDF, FormatDOCX:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	html, err := RenderTableHTML(t)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	if f == FormatPDF {
		return exportPDF(ctx, html, t.Title)
	}
	return exportDOCX(ctx, s.pandoc, html, t.Title)
}
