package tools

// Limits caps the critical tools per session.
type Limits struct {
	MaxRenders int
	MaxReplays int
}

// DefaultLimits mirrors the service defaults.
func DefaultLimits() Limits {
	return Limits{MaxRenders: 2, MaxReplays: 2}
}

// VideoTools returns the full video tool catalog bound to a backend and a
// quota store.
func VideoTools(b *Backend, quota Quota, limits Limits) []Tool {
	return []Tool{
		NewListTracksTool(b),
		NewGetTrackItemsTool(b),
		NewGetJobStatusTool(b),
		NewModifyPayloadTool(b),
		NewValidatePayloadTool(b),
		NewReRenderTool(b, quota, limits.MaxRenders),
		NewListCheckpointsTool(b),
		NewGetStepPayloadTool(b),
		NewReplayFromStepTool(b, quota, limits.MaxReplays),
	}
}

// NewVideoRegistry builds a registry holding the video tool catalog.
func NewVideoRegistry(b *Backend, quota Quota, limits Limits, opts ...RegistryOption) (*Registry, error) {
	r := NewRegistry(opts...)
	for _, t := range VideoTools(b, quota, limits) {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
