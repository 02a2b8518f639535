// The server program is the scheduler core's standalone binary: a pool of
// pinned workers plus an Allocator, wired up from CLI flags merged with an
// optional file-based config (§6 "External interfaces").
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NVIDIA/ufssched/conf"
	"github.com/NVIDIA/ufssched/halter"
	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/server"
)

var (
	numWorkers    uint32
	numApps       uint32
	coresFlag     string
	layoutFlag    string
	readyFile     string
	exitFile      string
	fsConfigPath  string
	devConfigPath string
	policyFlag    string
)

func main() {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "run the scheduler core's worker pool and allocator",
		RunE:  run,
	}

	cmd.Flags().Uint32VarP(&numWorkers, "workers", "w", 0, "number of pinned worker threads")
	cmd.Flags().Uint32VarP(&numApps, "apps", "a", 0, "number of tenant apps expected in the layout")
	cmd.Flags().StringVarP(&coresFlag, "cores", "c", "", "comma-separated list of CPU core ids to pin workers to")
	cmd.Flags().StringVarP(&layoutFlag, "layout", "l", "", "comma-separated w<N>-a<N>:c<cacheBlocks>:b<bandwidth>:p<cpuRatio> entries")
	cmd.Flags().StringVarP(&readyFile, "ready-file", "r", "", "file created once the server is ready to serve")
	cmd.Flags().StringVarP(&exitFile, "exit-file", "e", "", "file whose appearance requests a clean shutdown")
	cmd.Flags().StringVarP(&fsConfigPath, "fs-config", "f", "", "optional INI-style base config file")
	cmd.Flags().StringVarP(&devConfigPath, "dev-config", "d", "", "block device config, opaque to this core")
	cmd.Flags().StringVarP(&policyFlag, "policy", "p", "", "comma-separated policy flags (NO_ALLOC,NO_HARVEST,NO_SYMM_PARTITION,NO_AVOID_TINY_WEIGHT,NO_CACHE_PARTITION,FINE_GRAINED,HIGH_FREQ)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := validateFlags(); err != nil {
		return err
	}

	confMap, err := loadConfMap()
	if err != nil {
		return err
	}

	if err := logger.Up(confMap); err != nil {
		return fmt.Errorf("logger.Up(): %v", err)
	}
	defer logger.Down()

	if err := halter.Up(confMap); err != nil {
		return fmt.Errorf("halter.Up(): %v", err)
	}
	defer halter.Down()

	cfg, err := server.NewConfig(confMap)
	if err != nil {
		return err
	}

	s, err := server.New(cfg)
	if err != nil {
		return err
	}

	if err := s.Up(); err != nil {
		return err
	}

	return s.Run(nil)
}

// validateFlags checks bounds up front before anything else is parsed,
// resolving §9's "cpu_ratio > 1 is rejected mid-loop" design note: every
// layout entry's cpu_ratio is range-checked here via server.NewConfig's
// layout parser before a single worker is built.
func validateFlags() error {
	if numWorkers == 0 {
		return fmt.Errorf("-w/--workers must be > 0")
	}
	for _, c := range splitNonEmpty(coresFlag) {
		if _, err := strconv.Atoi(c); err != nil {
			return fmt.Errorf("-c/--cores entry %q is not an integer core id", c)
		}
	}
	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// loadConfMap builds the single ConfMap both the file-based config and the
// CLI flags feed into, per §A "Configuration".
func loadConfMap() (conf.ConfMap, error) {
	var confMap conf.ConfMap
	var err error
	if fsConfigPath != "" {
		confMap, err = conf.MakeConfMapFromFile(fsConfigPath)
		if err != nil {
			return nil, fmt.Errorf("loading -f/--fs-config: %v", err)
		}
	} else {
		confMap = conf.MakeConfMap()
	}

	overrides := []string{
		fmt.Sprintf("Scheduler.NumWorkers=%d", numWorkers),
		fmt.Sprintf("Scheduler.NumApps=%d", numApps),
		"Scheduler.Cores=" + coresFlag,
		"Scheduler.Layout=" + layoutFlag,
		"Scheduler.Policy=" + policyFlag,
		"Scheduler.ReadyFile=" + readyFile,
		"Scheduler.ExitFile=" + exitFile,
		"Scheduler.DevConfigPath=" + devConfigPath,
	}
	if err := confMap.UpdateFromStrings(overrides); err != nil {
		return nil, fmt.Errorf("merging CLI flags into config: %v", err)
	}
	return confMap, nil
}
