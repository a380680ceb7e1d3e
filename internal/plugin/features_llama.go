//go:build llama

package plugin

func init() { buildFeatures = append(buildFeatures, "llama") }
