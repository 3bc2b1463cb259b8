package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/pkg/logger"
	"github.com/rankeval/rankeval/internal/tensor"
)

// Service stores result tensors and run records on a Storage backend.
type Service struct {
	storage Storage
	log     *logger.Logger
}

// NewService creates a service over storage. log may be nil.
func NewService(storage Storage, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{storage: storage, log: log}
}

// SaveTensor stores t under key.
func (s *Service) SaveTensor(ctx context.Context, key string, t *tensor.Tensor) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.StorageError(fmt.Sprintf("encode tensor %s", key), err)
	}
	if err := s.storage.Put(ctx, key, data); err != nil {
		return err
	}
	s.log.Debug("Saved result", "key", key, "bytes", len(data))
	return nil
}

// LoadTensor loads the tensor stored under key.
func (s *Service) LoadTensor(ctx context.Context, key string) (*tensor.Tensor, error) {
	if IsRunKey(key) {
		return nil, errors.ValidationError(fmt.Sprintf("%s is a run record, not a result", key))
	}
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var t tensor.Tensor
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.StorageError(fmt.Sprintf("decode tensor %s", key), err)
	}
	return &t, nil
}

// SaveRun stores a run record.
func (s *Service) SaveRun(ctx context.Context, run *RunRecord) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return errors.StorageError(fmt.Sprintf("encode run %s", run.ID), err)
	}
	return s.storage.Put(ctx, RunKey(run.ID), data)
}

// LoadRun loads the record of run id.
func (s *Service) LoadRun(ctx context.Context, id string) (*RunRecord, error) {
	data, err := s.storage.Get(ctx, RunKey(id))
	if err != nil {
		return nil, err
	}
	var run RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, errors.StorageError(fmt.Sprintf("decode run %s", id), err)
	}
	return &run, nil
}

// ListRuns returns the ids of all stored runs.
func (s *Service) ListRuns(ctx context.Context) ([]string, error) {
	keys, err := s.storage.List(ctx, "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for _, key := range keys {
		if IsRunKey(key) {
			ids = append(ids, strings.TrimSuffix(key, "/"+runRecordName))
		}
	}
	return ids, nil
}

// ListResults returns the result keys starting with prefix, without run
// records.
func (s *Service) ListResults(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if !IsRunKey(key) {
			out = append(out, key)
		}
	}
	return out, nil
}

// DeleteRun removes a run record and every result stored under it.
func (s *Service) DeleteRun(ctx context.Context, id string) error {
	keys, err := s.storage.List(ctx, id+"/")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return errors.NotFoundError(fmt.Sprintf("run %s", id))
	}
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			return err
		}
	}
	s.log.Info("Deleted run", "run_id", id, "keys", len(keys))
	return nil
}

// Close closes the backend.
func (s *Service) Close() error {
	return s.storage.Close()
}
