package plugin

// buildFeatures lists optional backends compiled into this binary.
var buildFeatures []string
