// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import "testing"

func TestSemaphore(t *testing.T) {
	s := NewSemaphore(2)

	if !s.TryAcquire() {
		t.Fatalf("first acquire should succeed")
	}
	if !s.TryAcquire() {
		t.Fatalf("second acquire should succeed")
	}
	if s.TryAcquire() {
		t.Fatalf("third acquire should fail, no permits left")
	}

	s.Release()
	if !s.TryAcquire() {
		t.Fatalf("acquire after release should succeed")
	}
}
