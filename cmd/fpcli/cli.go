// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/codegangsta/cli"
	shlex "github.com/flynn-archive/go-shlex"
	"github.com/peterh/liner"

	log "github.com/golang/glog"
	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/dispatch"
	"github.com/wrensuess/forcepho/internal/durable"
	"github.com/wrensuess/forcepho/internal/priors"
)

var usage = `
	fpcli is a tool to inspect and manage a dispatcher catalog snapshot. It
	loads the snapshot named by --snapshot, runs commands against it, and
	writes mutations back to the same snapshot.

	You can use fpcli in two modes: either issue one command by typing
	something like:

		fpcli --snapshot <path> [--bands <b1,b2,...>] <subcommand> [<flags>...]

	or start a command line interpreter by typing something like:

		fpcli --snapshot <path> shell

	and issue commands interactively.

	The snapshot does not record the dispatcher configuration, so commands
	that depend on it (the band list, FoF grouping parameters) take their
	settings from --bands, --fof, and --config_file. A fresh snapshot is
	created from an on-disk sqlite catalog with the 'import' command.
	`

// fpCli runs subcommands against one dispatcher snapshot. The coordinator is
// loaded lazily on the first command that needs it and reused while the
// snapshot path stays the same (which matters in shell mode).
type fpCli struct {
	// The coordinator holding the loaded snapshot.
	co *dispatch.Coordinator
	// Cache key to know when we can reuse co.
	coCacheKey string
	// the command line framework we'll use to launch commands.
	app *cli.App
	// True if we are running a shell.
	inShell bool
}

// newFpCli creates a new fpCli object.
func newFpCli() *fpCli {
	f := &fpCli{}
	app := cli.NewApp()
	app.Name = "fpcli"

	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "snapshot, s",
			Usage: "Path of the dispatcher snapshot to operate on",
		},
		cli.StringFlag{
			Name:  "bands, b",
			Usage: "Comma-separated flux band names, in parameter order",
		},
		cli.BoolFlag{
			Name:  "fof",
			Usage: "Group sources by ROI connectivity instead of plain distance",
		},
		cli.StringFlag{
			Name:  "config_file",
			Usage: "Path for a JSON encoded dispatcher configuration file (overrides --bands and --fof)",
		},
	}

	dbflag := cli.StringFlag{
		Name:  "db",
		Usage: "path of a sqlite source catalog",
	}
	fileflag := cli.StringFlag{
		Name:  "file, f",
		Usage: "path of a checkpoint archive",
	}
	raflag := cli.Float64Flag{
		Name:  "ra",
		Usage: "right ascension in degrees",
	}
	decflag := cli.Float64Flag{
		Name:  "dec",
		Usage: "declination in degrees",
	}

	app.Commands = []cli.Command{
		{
			Name:    "info",
			Aliases: []string{"i"},
			Usage:   "Prints progress and scheduling state of the catalog.",
			Action:  f.cmdInfo,
		},
		{
			Name:   "import",
			Usage:  "Ingests a sqlite source catalog and writes a fresh snapshot.",
			Flags:  []cli.Flag{dbflag},
			Action: f.cmdImport,
		},
		{
			Name:   "export",
			Usage:  "Writes the current catalog state to a sqlite database.",
			Flags:  []cli.Flag{dbflag},
			Action: f.cmdExport,
		},
		{
			Name:  "bounds",
			Usage: "Checks, widens, or prints the prior bounds catalog.",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "source",
					Usage: "print the bounds row and vectors of this source index",
					Value: -1,
				},
				cli.Float64Flag{
					Name:  "minflux",
					Usage: "widen flux lower bounds down to this value",
				},
				cli.Float64Flag{
					Name:  "maxfluxfactor",
					Usage: "widen flux upper bounds up to this multiple of each flux",
				},
				cli.BoolFlag{
					Name:  "clamp",
					Usage: "clamp catalog fluxes into the widened intervals",
				},
			},
			Action: f.cmdBounds,
		},
		{
			Name:    "groups",
			Aliases: []string{"g"},
			Usage:   "Prints a census of the friends-of-friends groups.",
			Action:  f.cmdGroups,
		},
		{
			Name:  "overlap",
			Usage: "Lists the sources whose ROI overlaps a sky circle.",
			Flags: []cli.Flag{
				raflag,
				decflag,
				cli.Float64Flag{
					Name:  "radius, r",
					Usage: "circle radius in arcsec",
				},
			},
			Action: f.cmdOverlap,
		},
		{
			Name:   "nearest",
			Usage:  "Prints the source closest to a sky position.",
			Flags:  []cli.Flag{raflag, decflag},
			Action: f.cmdNearest,
		},
		{
			Name:  "draw",
			Usage: "Prints the heaviest seed-draw weights, the distribution checkout samples from.",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "n",
					Usage: "how many sources to show",
					Value: 10,
				},
			},
			Action: f.cmdDraw,
		},
		{
			Name:   "checkpoint",
			Usage:  "Writes the snapshot as a single portable compressed archive.",
			Flags:  []cli.Flag{fileflag},
			Action: f.cmdCheckpoint,
		},
		{
			Name:   "restore_checkpoint",
			Usage:  "Replaces the snapshot with the state in a checkpoint archive.",
			Flags:  []cli.Flag{fileflag},
			Action: f.cmdRestoreCheckpoint,
		},
		{
			Name:   "reset",
			Usage:  "Forces every source back to idle and zeroes the iteration counters.",
			Action: f.cmdReset,
		},
		{
			Name:   "shell",
			Usage:  "Starts a shell for interaction.",
			Action: f.cmdShell,
		},
	}
	f.app = app

	// By default 'HelpName' will be the parent command name('fpcli' in our
	// case) + command name. Overwrite 'HelpName' to be command name only.
	for i := range f.app.Commands {
		f.app.Commands[i].HelpName = f.app.Commands[i].Name
	}
	return f
}

// run starts a command specified by users.
func (f *fpCli) run(args []string) error {
	return f.app.Run(args)
}

func (f *fpCli) getSnapshot(c *cli.Context) string {
	snap := c.GlobalString("snapshot")
	if snap == "" {
		log.Errorf("No snapshot path provided. Use --snapshot/-s.")
		os.Exit(1)
	}
	return snap
}

// getConfig assembles the dispatcher configuration from the global flags,
// letting a config file override everything.
func (f *fpCli) getConfig(c *cli.Context) dispatch.Config {
	cfg := dispatch.DefaultProdConfig
	if b := c.GlobalString("bands"); b != "" {
		cfg.Bands = strings.Split(b, ",")
	}
	cfg.UseFoF = c.GlobalBool("fof")
	// Host memory pressure should not keep an operator from inspecting a
	// snapshot.
	cfg.FreeMemLimit = 0

	if path := c.GlobalString("config_file"); path != "" {
		fh, err := os.Open(path)
		if err != nil {
			log.Errorf("failed to open config file %s: %s", path, err)
			os.Exit(1)
		}
		defer fh.Close()
		if err := json.NewDecoder(fh).Decode(&cfg); err != nil {
			log.Errorf("failed to decode config file %s: %s", path, err)
			os.Exit(1)
		}
	}
	return cfg
}

// getCoordinator returns a coordinator loaded from the snapshot. If there's
// already one for the same snapshot path, reuse it, otherwise create a new
// one and restore into it.
func (f *fpCli) getCoordinator(c *cli.Context) *dispatch.Coordinator {
	snap := f.getSnapshot(c)
	if f.co != nil && f.coCacheKey == snap {
		return f.co
	}
	co, err := dispatch.New(f.getConfig(c))
	if err != nil {
		log.Errorf("bad dispatcher config: %s", err)
		os.Exit(1)
	}
	if err := co.Restore(snap); err != nil {
		log.Errorf("failed to load snapshot %s: %s", snap, err)
		os.Exit(1)
	}
	f.co = co
	f.coCacheKey = snap
	return f.co
}

// newCoordinator returns an empty coordinator, for commands that build their
// state from somewhere other than the snapshot.
func (f *fpCli) newCoordinator(c *cli.Context) *dispatch.Coordinator {
	co, err := dispatch.New(f.getConfig(c))
	if err != nil {
		log.Errorf("bad dispatcher config: %s", err)
		os.Exit(1)
	}
	return co
}

// persist writes mutated state back to the snapshot and drops the cached
// coordinator on failure so the next command reloads clean state.
func (f *fpCli) persist(c *cli.Context, co *dispatch.Coordinator) error {
	snap := f.getSnapshot(c)
	if err := co.Persist(snap); err != nil {
		log.Errorf("failed to write snapshot %s: %s", snap, err)
		f.co = nil
		return err
	}
	f.co = co
	f.coCacheKey = snap
	return nil
}

// cmdInfo implements the "info" subcommand.
func (f *fpCli) cmdInfo(c *cli.Context) {
	co := f.getCoordinator(c)
	s := co.Stats()
	pct := 0.0
	if s.NSources > 0 {
		pct = 100 * float64(s.NDone) / float64(s.NSources)
	}
	log.Infof("snapshot %s", f.getSnapshot(c))
	log.Infof("  sources=%d active=%d valid=%d", s.NSources, s.NActive, s.NValid)
	log.Infof("  done=%d (%.1f%%) patches=%d sparse=%v complete=%v",
		s.NDone, pct, s.NPatches, s.Sparse, s.Done)
}

// cmdImport implements the "import" subcommand.
func (f *fpCli) cmdImport(c *cli.Context) {
	db := c.String("db")
	if db == "" {
		log.Errorf("No sqlite catalog provided. Use --db.")
		return
	}
	tbl, err := durable.ImportCatalog(db)
	if err != nil {
		log.Errorf("failed to import %s: %s", db, err)
		return
	}
	co := f.newCoordinator(c)
	opts := catalog.IngestOptions{}
	if tbl.Has("roi") {
		opts.ROI = tbl.Col("roi")
	}
	if err := co.Ingest(tbl, opts); err != nil {
		log.Errorf("failed to ingest %s: %s", db, err)
		return
	}
	if f.persist(c, co) == nil {
		log.Infof("imported %d sources from %s", co.Stats().NSources, db)
	}
}

// cmdExport implements the "export" subcommand.
func (f *fpCli) cmdExport(c *cli.Context) {
	db := c.String("db")
	if db == "" {
		log.Errorf("No sqlite catalog provided. Use --db.")
		return
	}
	co := f.getCoordinator(c)
	if err := durable.ExportCatalog(db, co.Table()); err != nil {
		log.Errorf("failed to export to %s: %s", db, err)
		return
	}
	log.Infof("exported %d sources to %s", co.Stats().NSources, db)
}

// cmdBounds implements the "bounds" subcommand.
func (f *fpCli) cmdBounds(c *cli.Context) {
	co := f.getCoordinator(c)

	if i := c.Int("source"); i >= 0 {
		rows, _, err := co.BoundsAndCovs([]int{i})
		if err != nil {
			log.Errorf("failed to fetch bounds for source %d: %s", i, err)
			return
		}
		rec, err := co.Source(i)
		if err != nil {
			log.Errorf("failed to fetch source %d: %s", i, err)
			return
		}
		lower, upper, err := co.BoundVectors([]int{i}, rec.RA, rec.Dec)
		if err != nil {
			log.Errorf("failed to flatten bounds for source %d: %s", i, err)
			return
		}
		for j, iv := range rows[0] {
			log.Infof("source %d param %d: [%g, %g] (relative [%g, %g])",
				i, j, iv[0], iv[1], lower[j], upper[j])
		}
		return
	}

	mutated := false
	if c.IsSet("minflux") || c.Float64("maxfluxfactor") > 0 {
		opts := priors.AdjustOptions{
			MaxFluxFactor: c.Float64("maxfluxfactor"),
			Clamp:         c.Bool("clamp"),
		}
		if c.IsSet("minflux") {
			mf := c.Float64("minflux")
			opts.MinFlux = &mf
		}
		if err := co.AdjustBounds(opts); err != nil {
			log.Errorf("bounds check failed after widening: %s", err)
			return
		}
		mutated = true
	} else if err := co.CheckBounds(); err != nil {
		log.Errorf("bounds check failed: %s", err)
		return
	}
	log.Infof("all parameters sit strictly inside their bounds")
	if mutated {
		f.persist(c, co)
	}
}

// cmdGroups implements the "groups" subcommand.
func (f *fpCli) cmdGroups(c *cli.Context) {
	co := f.getCoordinator(c)
	gids, err := co.Groups()
	if err != nil {
		log.Errorf("failed to group the catalog: %s", err)
		return
	}
	sizes := map[int32]int{}
	for _, g := range gids {
		sizes[g]++
	}
	hist := map[int]int{} // group size -> how many groups
	largest := 0
	for _, n := range sizes {
		hist[n]++
		if n > largest {
			largest = n
		}
	}
	log.Infof("%d sources in %d groups, largest has %d members",
		len(gids), len(sizes), largest)
	var order []int
	for n := range hist {
		order = append(order, n)
	}
	sort.Ints(order)
	for _, n := range order {
		log.Infof("  %6d groups of size %d", hist[n], n)
	}
}

// cmdOverlap implements the "overlap" subcommand.
func (f *fpCli) cmdOverlap(c *cli.Context) {
	co := f.getCoordinator(c)
	recs, err := co.Overlapping(c.Float64("ra"), c.Float64("dec"), c.Float64("radius"))
	if err != nil {
		log.Errorf("overlap query failed: %s", err)
		return
	}
	log.Infof("%d sources overlap the circle", len(recs))
	for i := range recs {
		logRecord(&recs[i])
	}
}

// cmdNearest implements the "nearest" subcommand.
func (f *fpCli) cmdNearest(c *cli.Context) {
	co := f.getCoordinator(c)
	rec, d, err := co.Nearest(c.Float64("ra"), c.Float64("dec"))
	if err != nil {
		log.Errorf("nearest query failed: %s", err)
		return
	}
	log.Infof("nearest source is %.3f arcsec away", d)
	logRecord(&rec)
}

// cmdDraw implements the "draw" subcommand.
func (f *fpCli) cmdDraw(c *cli.Context) {
	co := f.getCoordinator(c)
	w, err := co.SeedWeights()
	if err != nil {
		log.Errorf("failed to compute seed weights: %s", err)
		return
	}
	idx := make([]int, len(w))
	total := 0.0
	for i := range w {
		idx[i] = i
		total += w[i]
	}
	sort.SliceStable(idx, func(a, b int) bool { return w[idx[a]] > w[idx[b]] })
	n := c.Int("n")
	if n > len(idx) {
		n = len(idx)
	}
	log.Infof("heaviest %d of %d seed weights (total %g):", n, len(w), total)
	for _, i := range idx[:n] {
		log.Infof("  source %6d weight %g", i, w[i])
	}
}

// cmdCheckpoint implements the "checkpoint" subcommand.
func (f *fpCli) cmdCheckpoint(c *cli.Context) {
	file := c.String("file")
	if file == "" {
		log.Errorf("No checkpoint path provided. Use --file/-f.")
		return
	}
	co := f.getCoordinator(c)
	if err := co.Checkpoint(file); err != nil {
		log.Errorf("failed to write checkpoint %s: %s", file, err)
		return
	}
	log.Infof("checkpointed %d sources to %s", co.Stats().NSources, file)
}

// cmdRestoreCheckpoint implements the "restore_checkpoint" subcommand.
func (f *fpCli) cmdRestoreCheckpoint(c *cli.Context) {
	file := c.String("file")
	if file == "" {
		log.Errorf("No checkpoint path provided. Use --file/-f.")
		return
	}
	co := f.newCoordinator(c)
	if err := co.RestoreCheckpoint(file); err != nil {
		log.Errorf("failed to read checkpoint %s: %s", file, err)
		return
	}
	if f.persist(c, co) == nil {
		log.Infof("restored %d sources from %s", co.Stats().NSources, file)
	}
}

// cmdReset implements the "reset" subcommand.
func (f *fpCli) cmdReset(c *cli.Context) {
	co := f.getCoordinator(c)
	if err := co.Reset(); err != nil {
		log.Errorf("failed to reset the catalog: %s", err)
		return
	}
	if f.persist(c, co) == nil {
		log.Infof("reset %d sources to idle", co.Stats().NSources)
	}
}

// cmdShell implements "shell" subcommand.
func (f *fpCli) cmdShell(c *cli.Context) {
	f.inShell = true
	defer func() { f.inShell = false }()

	// Make cli not exit on errors.
	cli.OsExiter = func(int) {}

	liner := liner.NewLiner()
	liner.SetCtrlCAborts(true)

	// Add commands auto completion.
	// SetCompleter accepts a function that will be called when users type
	// something in shell. The func takes the currently edited line content at
	// the left of the cursor(stored in 'line') and returns a list of
	// completion candidates.
	liner.SetCompleter(func(line string) (c []string) {
		for _, cmd := range f.app.Commands {
			if strings.HasPrefix(cmd.Name, line) {
				c = append(c, cmd.Name)
			}
		}
		return
	})

	defer liner.Close()

	for {
		input, err := liner.Prompt(fmt.Sprintf("(%s) ", "fpho"))
		if err != nil {
			log.Errorf("error: %v", err)
			return
		}

		// We use 'shlex' because we want split input line in to tokens using
		// shell-style rules for quoting and commenting.
		args, err := shlex.Split(input)
		if err != nil {
			log.Errorf("error:%v", err)
			continue
		}

		// Skip empty line.
		if 0 == len(args) {
			continue
		}

		if args[0] == "exit" {
			return
		}

		if f.runCommand(c, args...) == nil {
			// Adds succeeded command to command history.
			liner.AppendHistory(input)
		}
	}
}

// runCommand runs a single subcommand under the current global flags.
func (f *fpCli) runCommand(c *cli.Context, args ...string) error {
	fpArgs := []string{"fpcli",
		"--snapshot", c.GlobalString("snapshot"),
		"--bands", c.GlobalString("bands"),
		"--config_file", c.GlobalString("config_file"),
	}
	if c.GlobalBool("fof") {
		fpArgs = append(fpArgs, "--fof")
	}
	fpArgs = append(fpArgs, args...)
	return f.run(fpArgs)
}

func logRecord(r *catalog.Record) {
	log.Infof("  source %6d id=%d ra=%.6f dec=%.6f rhalf=%.3f roi=%.3f n_iter=%d active=%v valid=%v",
		r.SourceIndex, r.ID, r.RA, r.Dec, r.Rhalf, r.ROI, r.NIter, r.IsActive, r.IsValid)
}
