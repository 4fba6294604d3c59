// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"flag"
	"os"

	log "github.com/golang/glog"

	"github.com/wrensuess/forcepho/internal/loadscene"
)

// Flags for config parameters.
var (
	// For simple runs, the following knobs cover most tuning.
	workers   = flag.Int("workers", loadscene.DefaultConfig.Workers, "number of concurrent fit workers")
	duration  = flag.String("duration", loadscene.DefaultConfig.RunTime, "how long to run before giving up on convergence")
	failEvery = flag.Int("fail_every", 0, "make every Nth patch report a failed fit")
	addr      = flag.String("addr", "", "address for the status server, empty disables it")
	db        = flag.String("db", "", "bounce the generated field through this sqlite catalog")
	snapshot  = flag.String("snapshot", "", "persist dispatcher state to this path")

	// For advanced runs, use one of the two below. Configuration file
	// overwrites command-line configs.
	cfg     = flag.String("config", "", "JSON encoded configuration parameters (not recommended, use config file instead)")
	cfgFile = flag.String("config_file", "", "path for JSON encoded configuration file (overrides command-line config)")
)

func main() {
	flag.Set("logtostderr", "true")

	// Parse the flags.
	flag.Parse()

	runCfg := loadscene.DefaultConfig
	runCfg.Workers = *workers
	runCfg.RunTime = *duration
	runCfg.FailEvery = *failEvery
	runCfg.Server.Addr = *addr
	runCfg.DB = *db
	runCfg.Dispatch.SnapshotPath = *snapshot

	// Parse command-line config.
	if *cfg != "" {
		if err := json.Unmarshal([]byte(*cfg), &runCfg); err != nil {
			log.Fatalf("failed to parse command-line config: %s", err)
		}
	}

	// Parse config file.
	if *cfgFile != "" {
		f, err := os.Open(*cfgFile)
		if err != nil {
			log.Fatalf("failed to open config file %s: %s", *cfgFile, err)
		}
		dec := json.NewDecoder(f)
		if err := dec.Decode(&runCfg); err != nil {
			log.Fatalf("failed to decode config file %s: %s", *cfgFile, err)
		}
	}

	// Run the load.
	stats, runerr := loadscene.NewDriver(runCfg).Run()

	if runerr == nil {
		log.Infof("load run passed...")
		log.Infof("\n====== stats ======\n%s", stats)
	} else {
		log.Errorf("load run failed...: %s", runerr)
	}
}
