package recorder

import "EquitySync/internal/model"

// NoopRecorder is used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordPass(_ *model.PassReport) error      { return nil }
func (n *NoopRecorder) RecentPasses(_ int) ([]PassRow, error)     { return nil, nil }
func (n *NoopRecorder) PassResults(_ string) ([]ResultRow, error) { return nil, nil }
func (n *NoopRecorder) Close() error                              { return nil }
