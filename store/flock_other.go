// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

//go:build !unix

package store

// Without flock only the in-process mutex protects the file, so the file
// backend is single-process on these platforms.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
