package console

import (
	"context"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/export"
)

// PreviewExport reports what an export request would collect, with a
// checksum preview over counts and identifying parameters.
func (s *Service) PreviewExport(ctx context.Context, req core.IncidentExportRequest) (*export.PreviewResult, error) {
	if err := s.checkExportConnections(ctx, req.ConnectionIDs); err != nil {
		return nil, err
	}
	return s.exports.Preview(ctx, req)
}

// StartExport launches an asynchronous incident export job.
func (s *Service) StartExport(ctx context.Context, req core.IncidentExportRequest) (*core.IncidentExportJob, error) {
	if err := s.checkExportConnections(ctx, req.ConnectionIDs); err != nil {
		return nil, err
	}
	return s.exports.Start(req)
}

// GetExportJob returns one export job by id.
func (s *Service) GetExportJob(id string) (*core.IncidentExportJob, error) {
	return s.exports.Get(id)
}

// ListExportJobs returns every export job, newest first.
func (s *Service) ListExportJobs() []*core.IncidentExportJob {
	return s.exports.List()
}

// CancelExport requests cooperative cancellation of an export job.
func (s *Service) CancelExport(id string) (*core.IncidentExportJob, error) {
	return s.exports.Cancel(id)
}

// ResumeExport restarts a cancelled or failed export job from scratch.
func (s *Service) ResumeExport(id string) (*core.IncidentExportJob, error) {
	return s.exports.Resume(id)
}

// ListBundles returns persisted incident bundle metadata, newest first.
func (s *Service) ListBundles(ctx context.Context) ([]*core.IncidentBundle, error) {
	return s.store.Bundles().List(ctx)
}

func (s *Service) checkExportConnections(ctx context.Context, connectionIDs []string) error {
	for _, id := range connectionIDs {
		if _, err := s.store.Connections().FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
