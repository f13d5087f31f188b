package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/RobertoIHH/MQ7ServerWifi/services"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

var dayFile = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.json$`)

func main() {
	dir := flag.StringP("dir", "d", "sensor_data", "Directory holding the daily log files")
	lenient := flag.Bool("lenient", false, "Fall back to a jsonc pass that strips every trailing comma and comment")
	dryRun := flag.Bool("dry-run", false, "Report what would change without rewriting files")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	entries, err := os.ReadDir(*dir)
	if err != nil {
		logger.Fatal("Cannot read data directory", zap.String("dir", *dir), zap.Error(err))
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && dayFile.MatchString(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		logger.Info("No log files to repair", zap.String("dir", *dir))
		return
	}
	logger.Info("Repairing log files",
		zap.String("dir", *dir),
		zap.Int("files", len(files)),
		zap.Bool("lenient", *lenient),
		zap.Bool("dry_run", *dryRun))

	var repaired, failed, dropped int
	for _, name := range files {
		path := filepath.Join(*dir, name)
		res, err := services.RepairFile(path, *lenient, *dryRun)
		if err != nil {
			failed++
			logger.Error("Failed to repair file", zap.String("file", name), zap.Error(err))
			continue
		}
		repaired++
		dropped += res.Dropped
		logger.Info("File repaired",
			zap.String("file", name),
			zap.Int("records", res.Kept),
			zap.Int("dropped", res.Dropped),
			zap.Bool("rewritten", res.Changed && !*dryRun))
	}

	fmt.Printf("\nSummary:\n- files repaired: %d\n- files failed: %d\n- records dropped: %d\n", repaired, failed, dropped)
	if failed > 0 {
		logger.Sync()
		os.Exit(1)
	}
}
