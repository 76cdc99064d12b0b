package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/tripcast/tripcast/internal/clock"
	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/service/dao/checkpoint"
)

const manifestName = "checkpoints.json"

// Service implements a filesystem-backed checkpoint store: an ordered
// manifest plus one directory of table snapshots per step.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

// Ensure Service implements checkpoint.Store
var _ checkpoint.Store = (*Service)(nil)

// New creates a filesystem checkpoint store rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fsService := afs.New()
	ctx := context.Background()
	exists, _ := fsService.Exists(ctx, basePath)
	if !exists {
		if err := fsService.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}
	basePath = url.Normalize(basePath, file.Scheme)
	return &Service{basePath: basePath, fs: fsService}, nil
}

// Save persists a snapshot set for stepName: tables first, manifest last, so
// a crash mid-save never leaves a manifest entry pointing at missing tables.
func (s *Service) Save(ctx context.Context, stepName string, tables model.Tables) error {
	if stepName == "" {
		return fmt.Errorf("step name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readManifest(ctx)
	if err != nil {
		return err
	}
	seq := len(records)
	for i := range records {
		if records[i].Step == stepName {
			// Retry from the same step: this record and everything after
			// it is superseded; earlier records stay untouched.
			records = records[:i]
			seq = i
			break
		}
	}

	record := checkpoint.Record{Step: stepName, Seq: seq, Time: clock.Now(), Tables: tables.Names()}
	for _, name := range record.Tables {
		data, err := json.Marshal(tables[name])
		if err != nil {
			return fmt.Errorf("failed to marshal table %s: %w", name, err)
		}
		tablePath := s.tablePath(record, name)
		if err := s.fs.Upload(ctx, tablePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to save table %s to %s: %w", name, tablePath, err)
		}
	}

	records = append(records, record)
	return s.writeManifest(ctx, records)
}

// Load restores the snapshot recorded at stepName.
func (s *Service) Load(ctx context.Context, stepName string) (model.Tables, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.readManifest(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.Step != stepName {
			continue
		}
		tables := make(model.Tables, len(record.Tables))
		for _, name := range record.Tables {
			tablePath := s.tablePath(record, name)
			data, err := s.fs.DownloadWithURL(ctx, tablePath)
			if err != nil {
				return nil, fmt.Errorf("failed to read table snapshot %s: %w", tablePath, err)
			}
			var table model.Table
			if err := json.Unmarshal(data, &table); err != nil {
				return nil, fmt.Errorf("failed to unmarshal table snapshot %s: %w", tablePath, err)
			}
			tables[name] = &table
		}
		return tables, nil
	}
	return nil, &checkpoint.ResumeError{Step: stepName}
}

// LastCheckpoint returns the most recent recorded step name.
func (s *Service) LastCheckpoint(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, err := s.readManifest(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[len(records)-1].Step, nil
}

// List returns all records in pipeline order.
func (s *Service) List(ctx context.Context) ([]checkpoint.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readManifest(ctx)
}

func (s *Service) readManifest(ctx context.Context) ([]checkpoint.Record, error) {
	manifestPath := path.Join(s.basePath, manifestName)
	exists, err := s.fs.Exists(ctx, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check checkpoint manifest: %w", err)
	}
	if !exists {
		return nil, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint manifest: %w", err)
	}
	var records []checkpoint.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint manifest: %w", err)
	}
	return records, nil
}

func (s *Service) writeManifest(ctx context.Context, records []checkpoint.Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint manifest: %w", err)
	}
	manifestPath := path.Join(s.basePath, manifestName)
	if err := s.fs.Upload(ctx, manifestPath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write checkpoint manifest: %w", err)
	}
	return nil
}

func (s *Service) tablePath(record checkpoint.Record, table string) string {
	return path.Join(s.basePath, fmt.Sprintf("%03d-%s", record.Seq, record.Step), table+".json")
}
