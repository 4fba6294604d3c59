// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"net/http"

	log "github.com/golang/glog"
)

// QuitHandler will shut down a process. Records left claimed by in-flight
// workers are dropped on the next restore. Should be used for testing only.
func QuitHandler(w http.ResponseWriter, r *http.Request) {
	log.Fatalf("Received a quit request, kill the process.")
}
