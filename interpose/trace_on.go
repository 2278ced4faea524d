//go:build rlarchtrace

package interpose

const traceBuild = true
