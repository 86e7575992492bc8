package storage

import (
	"context"
	"time"
)

// Archive persists processed-log payloads of pushes that left the hot set.
type Archive interface {
	Store(ctx context.Context, tree string, pushID int64, data []byte) error
	Fetch(ctx context.Context, tree string, pushID int64) ([]byte, error)
	Remove(ctx context.Context, tree string, pushID int64) error
	Close() error
}

// RetentionPolicy describes how many pushes of a tree keep their logs hot.
type RetentionPolicy struct {
	Tree         string
	HotPushLimit int
	HotDuration  time.Duration
	Locked       bool
}

// RetentionDefaults provides fallback retention when no policy is configured.
type RetentionDefaults struct {
	HotPushLimit int
	HotDuration  time.Duration
}

// Options control storage behaviour across backends.
type Options struct {
	Archive   Archive
	Retention RetentionDefaults
}

// WithTree returns a copy of the policy bound to the provided tree.
func (p RetentionPolicy) WithTree(tree string) RetentionPolicy {
	p.Tree = tree
	return p
}

func (p RetentionPolicy) active() bool {
	return p.HotPushLimit > 0 || p.HotDuration > 0
}

func validatePolicy(policy RetentionPolicy) error {
	if policy.Tree == "" {
		return &ValidationError{Message: "tree is required"}
	}
	if policy.HotPushLimit < 0 {
		return &ValidationError{Message: "hotPushLimit must be >= 0"}
	}
	if policy.HotDuration < 0 {
		return &ValidationError{Message: "hotDuration must be >= 0"}
	}
	return nil
}
