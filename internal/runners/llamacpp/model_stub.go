//go:build !llama

package llamacpp

// openNative fails fast: the llama runtime is not available in this build.
func openNative(string, loadParams) (model, error) { return nil, errNotBuilt }
