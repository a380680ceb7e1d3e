package types

// Model represents a model file discovered on disk.
type Model struct {
	// Stable identifier for the model (file name).
	// example: tinyllama-q4.gguf
	ID string `json:"id" example:"tinyllama-q4.gguf"`
	// Human-friendly name.
	// example: tinyllama-q4
	Name string `json:"name" example:"tinyllama-q4"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tinyllama-q4.gguf
	Path string `json:"path" example:"/home/user/models/tinyllama-q4.gguf"`
	// File format inferred from the extension.
	// example: gguf
	Format string `json:"format" example:"gguf"`
	// File size in MB, used to estimate the memory footprint.
	// example: 640
	SizeMB int `json:"size_mb" example:"640"`
}
