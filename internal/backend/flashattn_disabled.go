//go:build !flashattn

package backend

const flashAttnEnabled = false
