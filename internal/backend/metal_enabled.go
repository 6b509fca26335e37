//go:build metal

package backend

const metalEnabled = true
