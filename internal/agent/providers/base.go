package providers

// BaseProvider holds the identity shared by every concrete ChatClient.
// Retries live one layer up, in retry.Executor wrapping ChatClient.Call
// — providers only need to report who they are and wrap SDK errors.
type BaseProvider struct {
	name         string
	defaultModel string
}

// NewBaseProvider builds the shared provider identity.
func NewBaseProvider(name, defaultModel string) BaseProvider {
	return BaseProvider{name: name, defaultModel: defaultModel}
}

// Name returns the provider's registered name.
func (b *BaseProvider) Name() string {
	return b.name
}

// ResolveModel returns model if set, else the provider's default.
func (b *BaseProvider) ResolveModel(model string) string {
	if model == "" {
		return b.defaultModel
	}
	return model
}
