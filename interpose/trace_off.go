//go:build !rlarchtrace

package interpose

const traceBuild = false
