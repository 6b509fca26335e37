//go:build flashattn

package backend

const flashAttnEnabled = true
