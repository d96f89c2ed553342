//go:build !linux

package gpu

func hostDetails(*SystemInfo) {}
